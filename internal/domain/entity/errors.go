package entity

import (
	"errors"
	"net/http"
)

// ErrorKind is the closed set of failure categories a preview request can end in.
// The string values are part of the wire contract and must not change.
type ErrorKind string

const (
	KindEmptyURL          ErrorKind = "empty_url"
	KindInvalidURL        ErrorKind = "invalid_url"
	KindInvalidScheme     ErrorKind = "invalid_scheme"
	KindBlockedHost       ErrorKind = "blocked_host"
	KindPrivateIPBlocked  ErrorKind = "private_ip_blocked"
	KindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	KindFetchError        ErrorKind = "fetch_error"
)

// AllErrorKinds lists every ErrorKind in a stable order.
var AllErrorKinds = []ErrorKind{
	KindEmptyURL,
	KindInvalidURL,
	KindInvalidScheme,
	KindBlockedHost,
	KindPrivateIPBlocked,
	KindRateLimitExceeded,
	KindFetchError,
}

// Valid reports whether k is one of the known kinds.
func (k ErrorKind) Valid() bool {
	for _, known := range AllErrorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsValidation reports whether k is produced by URL validation.
func (k ErrorKind) IsValidation() bool {
	switch k {
	case KindEmptyURL, KindInvalidURL, KindInvalidScheme, KindBlockedHost, KindPrivateIPBlocked:
		return true
	}
	return false
}

// DefaultStatus returns the HTTP status associated with a kind.
// Fetch failures map to 400 because the upstream page, not this service, is at fault.
func (k ErrorKind) DefaultStatus() int {
	if k == KindRateLimitExceeded {
		return http.StatusTooManyRequests
	}
	return http.StatusBadRequest
}

// Sentinel values usable with errors.Is. A *PreviewError matches the sentinel of its kind.
var (
	ErrEmptyURL          = &PreviewError{Kind: KindEmptyURL}
	ErrInvalidURL        = &PreviewError{Kind: KindInvalidURL}
	ErrInvalidScheme     = &PreviewError{Kind: KindInvalidScheme}
	ErrBlockedHost       = &PreviewError{Kind: KindBlockedHost}
	ErrPrivateIPBlocked  = &PreviewError{Kind: KindPrivateIPBlocked}
	ErrRateLimitExceeded = &PreviewError{Kind: KindRateLimitExceeded}
	ErrFetch             = &PreviewError{Kind: KindFetchError}
)

// PreviewError is the typed error returned by every preview operation.
//
// Status is the HTTP status reported to callers. UpstreamStatus is the status
// the remote server answered with, zero when no response was received.
// Debug is only populated when the service runs in debug mode.
type PreviewError struct {
	Kind           ErrorKind
	Status         int
	UpstreamStatus int
	Message        string
	Debug          map[string]any
	Err            error
}

// NewPreviewError creates a PreviewError with the default status of the kind.
func NewPreviewError(kind ErrorKind, message string) *PreviewError {
	return &PreviewError{Kind: kind, Status: kind.DefaultStatus(), Message: message}
}

// NewFetchError creates a fetch_error. A zero upstream status means no response was received.
func NewFetchError(upstreamStatus int, message string, cause error) *PreviewError {
	return &PreviewError{
		Kind:           KindFetchError,
		Status:         KindFetchError.DefaultStatus(),
		UpstreamStatus: upstreamStatus,
		Message:        message,
		Err:            cause,
	}
}

// Error returns "kind: message", with the cause appended when present.
func (e *PreviewError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PreviewError) Unwrap() error {
	return e.Err
}

// Is matches any *PreviewError of the same kind.
func (e *PreviewError) Is(target error) bool {
	t, ok := target.(*PreviewError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns Status, or the kind default when Status is unset.
func (e *PreviewError) HTTPStatus() int {
	if e.Status > 0 {
		return e.Status
	}
	return e.Kind.DefaultStatus()
}

// WithDebug returns a copy of e carrying the given debug fields.
func (e *PreviewError) WithDebug(debug map[string]any) *PreviewError {
	cp := *e
	cp.Debug = debug
	return &cp
}

// KindOf extracts the ErrorKind from err. ok is false when err is not a PreviewError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
