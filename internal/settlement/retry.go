package settlement

import (
	"context"
	"time"
)

// RetryPolicy is bounded exponential backoff with a cap.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	sleep := p.InitialBackoff
	if sleep <= 0 {
		sleep = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		if p.BackoffMultiplier > 1 {
			sleep = sleep * time.Duration(p.BackoffMultiplier)
		}
		if p.MaxBackoff > 0 && sleep > p.MaxBackoff {
			break
		}
	}
	if p.MaxBackoff > 0 && sleep > p.MaxBackoff {
		sleep = p.MaxBackoff
	}
	return sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
