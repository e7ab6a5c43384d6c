package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vircadia/worldsync/internal/core/domain"
)

const sessionColumns = `general__session_id,
	auth__agent_id,
	auth__provider_name,
	session__jwt,
	session__started_at,
	session__expires_at,
	session__last_seen_at,
	session__is_active`

// ValidateSession loads a session row by id. The caller decides whether
// the session is usable; a missing row maps to ErrSessionNotFound.
func (s *Store) ValidateSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM auth.agent_sessions
		 WHERE general__session_id = $1`,
		sessionID)

	var (
		sess                          domain.Session
		startedAt, expiresAt, lastSeen time.Time
	)
	err := row.Scan(
		&sess.ID,
		&sess.AgentID,
		&sess.Provider,
		&sess.Token,
		&startedAt,
		&expiresAt,
		&lastSeen,
		&sess.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound.WithDetails("session_id=" + sessionID.String())
	}
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}

	sess.CreatedAt = startedAt.UnixMilli()
	sess.ExpiresAt = expiresAt.UnixMilli()
	sess.LastSeen = lastSeen.UnixMilli()
	return &sess, nil
}

// TouchSession advances a session's last-seen timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auth.agent_sessions
		 SET session__last_seen_at = now()
		 WHERE general__session_id = $1 AND session__is_active = true`,
		sessionID)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound.WithDetails("session_id=" + sessionID.String())
	}
	return nil
}

// InvalidateSession marks a session inactive. Idempotent: invalidating
// an already-inactive or unknown session succeeds.
func (s *Store) InvalidateSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE auth.agent_sessions
		 SET session__is_active = false
		 WHERE general__session_id = $1`,
		sessionID)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// CleanupSessions soft-deletes sessions past their expiry or idle
// cutoff. Returns the number of sessions reaped.
func (s *Store) CleanupSessions(ctx context.Context, inactiveTimeout time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auth.agent_sessions
		 SET session__is_active = false
		 WHERE session__is_active = true
		   AND (session__expires_at < now()
		        OR session__last_seen_at < now() - $1::interval)`,
		inactiveTimeout)
	if err != nil {
		return 0, domain.ErrStorageError.WithCause(err)
	}
	return tag.RowsAffected(), nil
}
