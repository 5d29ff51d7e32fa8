// Package retry wraps an LLM client with classified exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmerrors"
	"shopassist/pkg/logx"
)

// Policy configures retry behavior. MaxAttempts and MaxDelay are hard
// ceilings; when the last error carries a classified schedule, the delay
// curve comes from that schedule instead of InitialDelay/BackoffFactor.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultPolicy is used when no policy is configured.
//
//nolint:gochecknoglobals // package default
var DefaultPolicy = Policy{
	MaxAttempts:   4,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Delay computes the backoff before the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-2)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d) / 5)) //nolint:gosec // jitter, not crypto
	}
	return d
}

// backoffFor computes the delay before the given attempt (1-based). The
// per-error-type schedule from llmerrors shapes the curve when the last
// error is classified; the policy's MaxDelay remains the ceiling.
func (p Policy) backoffFor(attempt int, lastErr error) time.Duration {
	var classified *llmerrors.Error
	if lastErr != nil && errors.As(lastErr, &classified) {
		cfg := classified.RetryConfigFor()
		shaped := Policy{
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffFactor: cfg.BackoffFactor,
			Jitter:        cfg.Jitter,
		}
		d := shaped.Delay(attempt)
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
		return d
	}
	return p.Delay(attempt)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var classified *llmerrors.Error
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return false
}

// Middleware returns retry middleware driven by the policy.
func Middleware(policy Policy) llm.Middleware {
	logger := logx.NewLogger("llm-retry")
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(next, func(ctx context.Context, in llm.Request) (llm.Response, error) {
			var lastErr error
			for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
				if delay := policy.backoffFor(attempt, lastErr); delay > 0 {
					logger.Debug("retrying %s in %s (attempt %d/%d)", next.ModelName(), delay, attempt, policy.MaxAttempts)
					select {
					case <-ctx.Done():
						return llm.Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					case <-time.After(delay):
					}
				}

				resp, err := next.Complete(ctx, in)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !shouldRetry(err) {
					break
				}
			}
			return llm.Response{}, lastErr
		})
	}
}
