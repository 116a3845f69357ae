// Package apierr defines the closed set of error kinds surfaced by the
// marketplace API, the sink, and the components between them. Every outbound
// failure is classified into exactly one Kind at the HTTP boundary so that
// retry and dispatch logic never has to parse error strings.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind identifies the failure category of an Error.
type Kind int

const (
	// KindRateLimit is an upstream throttle signal, possibly with a
	// retry-after hint. Retryable.
	KindRateLimit Kind = iota
	// KindNetwork is a connection-level failure. Retryable.
	KindNetwork
	// KindTimeout is a request or context deadline expiry. Retryable.
	KindTimeout
	// KindServer is a 5xx-equivalent upstream failure. Retryable.
	KindServer
	// KindAuth is an authentication/authorization rejection. Fatal.
	KindAuth
	// KindValidation means the caller's input was malformed. Fatal.
	KindValidation
	// KindJobTimeout means a bulk report task never became ready within the
	// allowed window. Fatal for that feed only.
	KindJobTimeout
	// KindSinkWrite is a failed sink batch write. Retryable per batch.
	KindSinkWrite
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindJobTimeout:
		return "job_timeout"
	case KindSinkWrite:
		return "sink_write"
	}
	return "unknown"
}

// Error is a classified failure. RetryAfter is non-zero only when the
// upstream provided an explicit wait hint.
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// RateLimited creates a rate-limit error carrying the upstream wait hint.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Msg: msg, RetryAfter: retryAfter}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindNetwork so unexpected transport failures stay retryable.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindNetwork
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Retryable reports whether the error is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimit, KindNetwork, KindTimeout, KindServer, KindSinkWrite:
		return true
	}
	return false
}

// RetryAfterHint returns the upstream-provided wait hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return ae.RetryAfter, true
	}
	return 0, false
}

// FromResponse classifies a non-2xx HTTP response from the marketplace or
// the sink. retryAfterHeader is the raw Retry-After value in seconds, which
// may be empty.
func FromResponse(status int, body []byte, retryAfterHeader string) *Error {
	msg := http.StatusText(status)
	if len(body) > 0 {
		const maxBody = 256
		if len(body) > maxBody {
			body = body[:maxBody]
		}
		msg = string(body)
	}

	switch {
	case status == http.StatusTooManyRequests:
		var hint time.Duration
		if retryAfterHeader != "" {
			if secs, err := strconv.Atoi(retryAfterHeader); err == nil && secs > 0 {
				hint = time.Duration(secs) * time.Second
			}
		}
		return RateLimited(fmt.Sprintf("upstream throttled (%d): %s", status, msg), hint)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Newf(KindAuth, "authentication rejected (%d): %s", status, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Newf(KindTimeout, "upstream timeout (%d): %s", status, msg)
	case status >= 500:
		return Newf(KindServer, "upstream error (%d): %s", status, msg)
	default:
		return Newf(KindValidation, "request rejected (%d): %s", status, msg)
	}
}
