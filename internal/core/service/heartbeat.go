package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/pkg/token"
)

// RunSweep runs the heartbeat sweep until ctx is cancelled. Every
// checkInterval it re-validates sessions with no activity inside the
// window and evicts the ones the store no longer accepts.
func (m *SessionManager) RunSweep(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce(ctx, checkInterval)
		}
	}
}

// SweepOnce performs a single sweep pass. Exported for tests and for
// forced sweeps after invalidation bursts.
func (m *SessionManager) SweepOnce(ctx context.Context, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter).UnixMilli()

	var stale []*BoundSession
	m.sessions.Range(func(id string, bound *BoundSession) bool {
		if bound.Invalidated() || bound.Session.LastSeen < cutoff {
			stale = append(stale, bound)
		}
		return true
	})
	if len(stale) == 0 {
		return
	}

	// Re-validation is bounded to avoid store connection storms.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallel)

	for _, bound := range stale {
		g.Go(func() error {
			m.revalidate(gctx, bound)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
}

func (m *SessionManager) revalidate(ctx context.Context, bound *BoundSession) {
	if bound.Invalidated() {
		m.evict(bound)
		return
	}

	_, err := m.Validate(ctx, bound.Session.Token)
	if err == nil {
		return
	}

	// Transient store errors keep the session; only definitive
	// rejections evict.
	code := domain.GetErrorCode(err)
	if code == domain.ErrStorageError.Code || code == domain.ErrInternalServer.Code {
		m.logger.Warn("heartbeat revalidation deferred",
			"session_id", bound.Session.ID,
			"error", err,
		)
		return
	}

	m.logger.Info("session evicted by heartbeat sweep",
		"session_id", bound.Session.ID,
		"token_fp", token.Fingerprint(bound.Session.Token),
		"reason", code,
	)
	m.evict(bound)
}

func (m *SessionManager) evict(bound *BoundSession) {
	bound.sink.Close(CloseNormal, ReasonSessionExpired)
	m.sessions.Delete(bound.Session.ID.String())
	m.metrics.SessionsEvicted.Inc()
	m.metrics.SessionsActive.Set(float64(m.sessions.Count()))
}
