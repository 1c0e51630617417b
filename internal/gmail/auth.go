package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"mailbot/internal/logger"
	"mailbot/internal/service"
)

// Scopes cover mailbox changes, drafts and calendar events.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailComposeScope,
	calendar.CalendarEventsScope,
}

// savingTokenSource writes refreshed tokens back to disk so the next run
// starts with a valid access token.
type savingTokenSource struct {
	src     oauth2.TokenSource
	path    string
	logger  *logger.Logger
	mutex   sync.Mutex
	current string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t.AccessToken != s.current {
		s.current = t.AccessToken
		if err := saveToken(s.path, t); err != nil {
			s.logger.Warnf("Failed to save refreshed token to %s: %v", s.path, err)
		}
	}
	return t, nil
}

// NewHTTPClient returns an OAuth client for one account. The client config
// is read from credentialsFile, or built from clientID/clientSecret when the
// file does not exist. The token must have been authorized beforehand.
func NewHTTPClient(ctx context.Context, credentialsFile, tokenFile, clientID, clientSecret string, logger *logger.Logger) (*http.Client, error) {
	conf, err := oauthConfig(credentialsFile, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	token, err := loadToken(tokenFile)
	if err != nil {
		return nil, err
	}

	src := &savingTokenSource{
		src:     conf.TokenSource(ctx, token),
		path:    tokenFile,
		logger:  logger,
		current: token.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

func oauthConfig(credentialsFile, clientID, clientSecret string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err == nil {
		conf, err := google.ConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("invalid OAuth client file %s: %w", credentialsFile, err)
		}
		return conf, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", credentialsFile, err)
	}
	if clientID == "" {
		return nil, fmt.Errorf("no OAuth client: %s is missing and GOOGLE_CLIENT_ID is not set", credentialsFile)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("token file %s not found: %w", path, service.ErrAuthExpired)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(b, &token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", path, err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	b, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
