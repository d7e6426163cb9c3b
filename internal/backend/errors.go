package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by lookups the backend answered with 404.
	ErrNotFound = errors.New("not found")

	// ErrCircuitOpen is wrapped in a TransientError while the breaker is
	// rejecting calls.
	ErrCircuitOpen = errors.New("backend unavailable: circuit breaker open")
)

// APIError is a non-2xx reply. Message is the backend's own explanation
// and is meant to be shown to the operator verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// StatusError is a non-2xx reply whose body did not say what went wrong,
// such as a proxy's HTML error page. It always arrives wrapped in a
// TransientError.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// TransientError covers failures where the backend gave no usable answer:
// transport errors, undecodable bodies, unexplained error statuses, an open
// circuit breaker.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying by hand later.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}
