package insights

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fetch failure. The string form is what callers see in
// cache metadata.
type Kind string

const (
	// KindUnauthenticated means no access token was set.
	KindUnauthenticated Kind = "Unauthenticated"

	// KindAuth means the API rejected the token (401/403, OAuth error 190).
	KindAuth Kind = "AuthError"

	// KindRateLimited means the API or the local usage tracker asked to back off.
	KindRateLimited Kind = "RateLimited"

	// KindNetwork represents DNS, connection and transport failures.
	KindNetwork Kind = "NetworkError"

	// KindTimeout means a single HTTP call exceeded its deadline.
	KindTimeout Kind = "Timeout"

	// KindServer represents 5xx responses.
	KindServer Kind = "ServerError"

	// KindRequest represents other 4xx responses.
	KindRequest Kind = "RequestError"

	// KindProtocol means the response did not match the API contract.
	KindProtocol Kind = "ProtocolError"
)

// Retryable reports whether the client retries this kind on its own.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		// Rate limits are retried by the caller, auth/request/protocol errors not at all
		return false
	}
}

// Sentinel errors, one per Kind. An *APIError matches the sentinel of its Kind with errors.Is.
var (
	ErrUnauthenticated = errors.New("no access token set")
	ErrAuth            = errors.New("access token rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("request timed out")
	ErrServer          = errors.New("server error")
	ErrRequest         = errors.New("request error")
	ErrProtocol        = errors.New("protocol error")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

var sentinels = map[Kind]error{
	KindUnauthenticated: ErrUnauthenticated,
	KindAuth:            ErrAuth,
	KindRateLimited:     ErrRateLimited,
	KindNetwork:         ErrNetwork,
	KindTimeout:         ErrTimeout,
	KindServer:          ErrServer,
	KindRequest:         ErrRequest,
	KindProtocol:        ErrProtocol,
}

// APIError represents a classified insights API failure.
type APIError struct {
	Kind       Kind
	StatusCode int
	// Code is the API's error.code from the JSON error payload (0 if absent).
	Code    int
	Message string
	// RetryAfter is the suggested backoff for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("insights %s", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the error's Kind.
func (e *APIError) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the Kind of err, or "" for nil and unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// RetryAfterOf returns the suggested backoff carried by a rate limit error.
func RetryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
