package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the upstream object is gone; callers skip it.
	ErrNotFound = errors.New("not found upstream")
	// ErrAuthExpired means the account needs to be re-authorized by the operator.
	ErrAuthExpired = errors.New("authorization expired")
	// ErrMalformedOutput means a model reply held no usable JSON object.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrUnreadable means a fetched payload could not be parsed. Fetching it
	// again will not help.
	ErrUnreadable = errors.New("unreadable message")
)

// TransientError wraps a failure that may succeed on a later attempt.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsStatusTransient classifies an HTTP status code returned by a collaborator.
func IsStatusTransient(code int) bool {
	return code == 429 || code >= 500
}
