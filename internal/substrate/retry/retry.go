// Package retry implements the exponential-backoff retry policy for
// substrate dispatch, classifying errors as transient or permanent via
// internal/swarmerr.Kind.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/abathur/swarm/internal/swarmerr"
)

// Policy bounds retry attempts with exponential backoff.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Default returns the standard policy: 3 retries, 10s initial backoff,
// 5m cap.
func Default() Policy {
	return Policy{MaxRetries: 3, InitialBackoff: 10 * time.Second, MaxBackoff: 5 * time.Minute}
}

// Backoff returns min(initial * 2^attempt, max).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Execute runs op, retrying on transient errors (per swarmerr.Error.Retryable)
// with jittered exponential backoff, up to MaxRetries additional attempts.
func Execute[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxRetries || !isRetryable(err) {
			return zero, err
		}

		timer := time.NewTimer(jitter(p.Backoff(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// jitter picks a wait uniformly from [d/2, d], so callers that failed
// together do not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}

func isRetryable(err error) bool {
	if se, ok := swarmerr.As(err); ok {
		return se.Retryable()
	}
	// An error from outside the swarmerr taxonomy (e.g. a raw network or
	// context error) is treated as transient.
	return true
}
