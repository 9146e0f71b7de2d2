package proxy

import (
	"errors"
	"net/http"
)

// Kind classifies orchestrator failures.
type Kind int

const (
	KindNoAvailableCredential Kind = iota + 1
	KindCredentialRefreshFailed
	KindInvalidRequest
	KindUpstreamCallFailed
	// KindFrameDecodeSkipped and KindLoggingFailed are never returned from
	// Handle; they label warnings in the logs.
	KindFrameDecodeSkipped
	KindLoggingFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoAvailableCredential:
		return "NoAvailableCredential"
	case KindCredentialRefreshFailed:
		return "CredentialRefreshFailed"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindUpstreamCallFailed:
		return "UpstreamCallFailed"
	case KindFrameDecodeSkipped:
		return "FrameDecodeSkipped"
	case KindLoggingFailed:
		return "LoggingFailed"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps the kind to the status returned to callers.
func (k Kind) HTTPStatus() int {
	if k == KindInvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is returned by Orchestrator.Handle.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
