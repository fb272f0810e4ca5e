package remote

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against any error a Store returns.
var (
	ErrTransient = errors.New("transient network error")
	ErrNotFound  = errors.New("object not found")
	ErrAuth      = errors.New("authorization failed")
	ErrCancelled = errors.New("transfer cancelled")
)

// Error describes a failed store operation.
// Kind is one of the sentinels above, or nil for local I/O failures.
type Error struct {
	Store string
	Op    string
	Key   string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Kind != nil && e.Err != nil && e.Kind != e.Err {
		return fmt.Sprintf("%s %s %s: %v: %v", e.Store, e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Store, e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

func newError(store, op, key string, kind, err error) error {
	if err == nil {
		err = kind
	}
	return &Error{Store: store, Op: op, Key: key, Kind: kind, Err: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// HTTPError represents a non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// classifyStatus maps an HTTP status to an error kind.
// 4xx other than 429 are terminal; 5xx and 429 are transient.
func classifyStatus(code int) error {
	switch {
	case code == 404 || code == 410:
		return ErrNotFound
	case code == 401 || code == 403:
		return ErrAuth
	case code == 429 || code >= 500:
		return ErrTransient
	}
	return nil
}

// contextKind returns ErrCancelled when ctx is done.
func contextKind(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}
