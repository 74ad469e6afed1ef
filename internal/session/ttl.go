package session

import (
	"context"
	"log/slog"
	"time"
)

// ExpireCallback is called for each session removed by the sweeper.
type ExpireCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically drops sessions
// idle for longer than ttl.
func StartSweeper(ctx context.Context, store *Store, ttl, interval time.Duration, onExpire ExpireCallback) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepOnce(store, ttl, onExpire)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(store *Store, ttl time.Duration, onExpire ExpireCallback) {
	expired := store.Sweep(ttl)
	if len(expired) == 0 {
		return
	}
	for _, id := range expired {
		if onExpire != nil {
			onExpire(id)
		}
	}
	slog.Info("Session sweeper removed idle sessions", "count", len(expired), "remaining", store.Len())
}
