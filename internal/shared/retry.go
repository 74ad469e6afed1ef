package shared

import (
	"context"
	"log/slog"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultBackoff retries three times at 100ms, 200ms, 400ms.
var DefaultBackoff = Backoff{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Delay returns the wait before retry number i (zero based).
func (b Backoff) Delay(i int) time.Duration {
	return b.BaseDelay * time.Duration(1<<i)
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}

		delay := b.Delay(i)
		slog.Debug("Retrying after transient failure", "attempt", i+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
