package gmail

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"mailbot/internal/service"
)

// MapError sorts Google API failures into the service error taxonomy. It is
// shared by every Google collaborator.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 404:
			return fmt.Errorf("%s: %w", op, service.ErrNotFound)
		case apiErr.Code == 401:
			return fmt.Errorf("%s: %w", op, service.ErrAuthExpired)
		case service.IsStatusTransient(apiErr.Code):
			return service.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.ErrorCode == "invalid_grant" || strings.Contains(string(tokenErr.Body), "invalid_grant") {
			return fmt.Errorf("%s: %w", op, service.ErrAuthExpired)
		}
		return service.Transient(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return service.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
