package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed backend call.
type ErrorKind string

const (
	KindHTTP    ErrorKind = "http"
	KindNetwork ErrorKind = "network"
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind   ErrorKind
	Op     string // e.g. "PUT /scenes/harbor/config"
	Status int    // HTTP status, 0 for network faults
	Detail string // backend {detail} message when present
	Cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Detail != "" {
			return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Detail)
		}
		return fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
	default:
		return fmt.Sprintf("%s: network error: %v", e.Op, e.Cause)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind and, when set, the same status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Status == 0 || e.Status == t.Status)
}

// IsHTTP reports whether err is a non-2xx backend response.
func IsHTTP(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindHTTP
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// DetailOf returns the backend detail carried by err, or the error text.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
