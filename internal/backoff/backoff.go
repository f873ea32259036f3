// Package backoff is the single retry policy used for every upstream call,
// both job creation and polling.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/fitroom/backend/internal/domain"
)

// Policy parameterizes retries of transient upstream failures.
type Policy struct {
	// MaxRetries is the retry budget after the initial attempt.
	MaxRetries int
	// BaseDelay is the first retry delay; it doubles per consecutive
	// failure (1s, 2s, 4s with the default).
	BaseDelay time.Duration
}

// Delay computes the wait before retry number attempt (1-based). A positive
// retryAfter (the provider's Retry-After header) overrides the schedule.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return p.BaseDelay << (attempt - 1)
}

// Retryable reports whether err is transient provider load (429/5xx).
// Everything else, including malformed responses and other 4xx, is fatal.
func Retryable(err error) bool {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return false
}

// Do runs fn, retrying retryable failures up to the policy budget with
// cancellable sleeps in between. It reports whether any retry occurred and
// returns the last error once the budget is exhausted or a fatal error hit.
func Do(ctx context.Context, p Policy, fn func() error) (bool, error) {
	retried := false
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return retried, nil
		}
		if !Retryable(err) || attempt >= p.MaxRetries {
			return retried, err
		}

		retried = true
		var retryAfter time.Duration
		var ue *domain.UpstreamError
		if errors.As(err, &ue) {
			retryAfter = ue.RetryAfter
		}
		if err := Sleep(ctx, p.Delay(attempt+1, retryAfter)); err != nil {
			return retried, err
		}
	}
}

// Sleep waits d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
