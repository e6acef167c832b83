package ports

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied is a transient upstream denial (WAF style), worth retrying.
	ErrAccessDenied = errors.New("access denied")
	// ErrAuth is a credential or approval failure; retrying will not help.
	ErrAuth = errors.New("authorization error")
	// ErrRequest covers transport, status and decode failures.
	ErrRequest = errors.New("request error")
	// ErrNotFound is returned by stores for missing point lookups.
	ErrNotFound = errors.New("not found")
)

type UpstreamKind int

const (
	KindRequest UpstreamKind = iota
	KindAuth
	KindAccessDenied
)

func (k UpstreamKind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindAccessDenied:
		return "access_denied"
	default:
		return "error"
	}
}

// UpstreamError is returned by connectors for any failed upstream call.
type UpstreamError struct {
	Source     string
	Endpoint   string
	Kind       UpstreamKind
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %s", e.Source, e.Endpoint, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Source, e.Endpoint, e.Kind, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch e.Kind {
	case KindAccessDenied:
		return target == ErrAccessDenied
	case KindAuth:
		return target == ErrAuth
	default:
		return target == ErrRequest
	}
}
