// Package retry implements a bounded retry policy with exponential backoff
// and jitter. The policy layers over the circuit breaker: callers wrap the
// breaker-guarded invocation in Do, and only errors the policy classifies
// as retryable trigger another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/relay-labs/agent-router/internal/breaker"
)

// Policy configures retry behaviour.
type Policy struct {
	// MaxAttempts bounds the total number of attempts (not retries).
	// Defaults to 3.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; each subsequent
	// retry doubles it. Defaults to 100ms.
	BaseBackoff time.Duration
	// MaxBackoff caps the delay between attempts. Defaults to 5s.
	MaxBackoff time.Duration
	// Jitter is the maximum random duration added to each delay to avoid
	// synchronized retries. Defaults to 50ms.
	Jitter time.Duration
	// Retryable classifies errors; nil means no error is retried.
	// breaker.ErrOpen is never retried regardless of the classifier:
	// a short-circuited call will not recover within the same request.
	Retryable func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	} else if p.Jitter == 0 {
		p.Jitter = 50 * time.Millisecond
	}
	return p
}

// Do runs fn up to p.MaxAttempts times, sleeping between attempts with
// exponential backoff plus jitter. It returns nil on the first success, the
// last error once attempts are exhausted or the error is not retryable, and
// ctx.Err() if the context is cancelled while waiting. The attempt count
// (1-based) is passed to fn so callers can record per-attempt telemetry.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	delay := p.BaseBackoff
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, breaker.ErrOpen) {
			return lastErr
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		sleep := delay
		if p.Jitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(p.Jitter))) //nolint:gosec
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}
