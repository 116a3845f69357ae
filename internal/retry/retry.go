// Package retry implements exponential backoff with jitter for marketplace
// and sink calls. Classification of what is retryable lives in apierr; this
// package only schedules the attempts.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
)

// Policy controls the retry schedule for one logical call.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
	// Multiplier is the exponential base. Defaults to 2.
	Multiplier float64
	// JitterFrac spreads each delay by ±frac. Defaults to 0.25.
	JitterFrac float64
	// RetryAfterCap bounds how large a server-provided retry-after hint may
	// be before it is ignored in favor of the computed delay.
	RetryAfterCap time.Duration

	// Sleep is injectable for tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the policy used for marketplace calls unless configured
// otherwise.
func Default() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2,
		JitterFrac:    0.25,
		RetryAfterCap: 2 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.JitterFrac <= 0 {
		p.JitterFrac = 0.25
	}
	if p.RetryAfterCap <= 0 {
		p.RetryAfterCap = 2 * time.Minute
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Backoff returns the pre-jitter delay for the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// delay computes the sleep before the next attempt, honoring a server
// retry-after hint when present and within bounds.
func (p Policy) delay(attempt int, err error) time.Duration {
	if hint, ok := apierr.RetryAfterHint(err); ok && hint <= p.RetryAfterCap {
		return hint
	}
	d := p.Backoff(attempt)
	jitter := 1 + p.JitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// attempts are exhausted; the last error is returned as-is so callers can
// still inspect its kind.
func (p Policy) Execute(ctx context.Context, logger *zap.Logger, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !apierr.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		d := p.delay(attempt, lastErr)
		if logger != nil {
			logger.Warn("retry.attempt_failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("next_delay", d),
				zap.Error(lastErr))
		}
		if err := p.Sleep(ctx, d); err != nil {
			return err
		}
	}
	return lastErr
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, logger, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return apierr.Wrap(apierr.KindTimeout, ctx.Err(), "retry wait canceled")
	}
}
