package broadcast

import (
	"context"
	"time"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// RetryPolicy is a fixed-interval retry budget: no backoff, no jitter.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

type sendFunc func(ctx context.Context) (kit.MessageRef, error)

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// sendWithRetry runs send up to policy.Attempts times, sleeping policy.Delay
// between attempts. It returns the number of attempts made and the last error
// unchanged; classification is the caller's job.
func (e *Engine) sendWithRetry(ctx context.Context, kind string, send sendFunc) (kit.MessageRef, int, error) {
	policy := e.retryPolicy()
	var last error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		ref, err := send(ctx)
		e.metrics.ObserveAttempt(kind, err)
		if err == nil {
			if attempt > 1 {
				e.log.Info("broadcast succeeded after retry", logx.String("kind", kind), logx.Int("attempt", attempt))
			}
			return ref, attempt, nil
		}
		last = err
		if attempt == policy.Attempts {
			return kit.MessageRef{}, attempt, last
		}
		e.log.Warn("broadcast attempt failed, retrying",
			logx.String("kind", kind),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", policy.Attempts),
			logx.Duration("delay", policy.Delay),
			logx.Err(err),
		)
		if err := e.sleep(ctx, policy.Delay); err != nil {
			return kit.MessageRef{}, attempt, err
		}
	}
	return kit.MessageRef{}, policy.Attempts, last
}
