package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the main failure classes. Callers match with errors.Is.
var (
	// ErrValidation covers malformed credentials or request input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuth covers a missing, unknown or expired session token.
	ErrAuth = errors.New("session invalid or expired")

	// ErrEncryption and ErrDecryption are crypto-layer faults. Always fatal
	// to the operation, never swallowed.
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")

	// ErrUpstreamBusy is surfaced once the per-call retry budget for upstream
	// 429s is exhausted.
	ErrUpstreamBusy = errors.New("upstream provider busy")

	// ErrPollingTimeout means the poll budget ran out before a terminal
	// status. The job may still complete out-of-band; this is not a failure.
	ErrPollingTimeout = errors.New("polling budget exhausted before terminal state")

	// ErrCanceled is a caller-initiated abort, distinct from both failure
	// and timeout.
	ErrCanceled = errors.New("operation canceled")
)

// RateLimitError is a breach of the local limiter, never an upstream 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// UpstreamError is a non-2xx response from the prediction provider.
type UpstreamError struct {
	StatusCode int
	Message    string
	// RetryAfter is populated from the provider's Retry-After header on 429.
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error [%d]: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient provider load (429 or
// 5xx). Anything else indicates a client-side or terminal condition.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
