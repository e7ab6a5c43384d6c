package service

import (
	"context"
	"time"

	"github.com/vircadia/worldsync/internal/telemetry/logger"
)

// CleanupStore reaps dead sessions in the store.
type CleanupStore interface {
	// CleanupSessions soft-deletes sessions past expiry or idle longer
	// than inactiveTimeout, returning how many it reaped.
	CleanupSessions(ctx context.Context, inactiveTimeout time.Duration) (int64, error)
}

// RunSessionCleanup reaps expired and idle sessions on a fixed
// interval until ctx is cancelled. The store-side reap is independent
// of the heartbeat sweep: the sweep evicts live connections whose
// sessions died, this removes session rows nobody is connected to.
func RunSessionCleanup(ctx context.Context, store CleanupStore, interval, inactiveTimeout time.Duration, log logger.Logger) {
	if log == nil {
		log = logger.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := store.CleanupSessions(ctx, inactiveTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("session cleanup failed", "error", err)
				continue
			}
			if reaped > 0 {
				log.Info("reaped dead sessions", "count", reaped)
			}
		}
	}
}
