package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// CanSubscribe asks the access policy whether a session may observe a
// sync group.
func (s *Store) CanSubscribe(ctx context.Context, sessionID uuid.UUID, syncGroup string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT auth.has_sync_group_read_access($1, $2)`,
		sessionID, syncGroup).Scan(&ok)
	if err != nil {
		return false, domain.ErrStorageError.WithCause(err)
	}
	return ok, nil
}

// AllowedSessions returns, for each changed resource, the subset of
// candidate sessions permitted to observe it. The database policy is
// authoritative; the server never second-guesses the result.
func (s *Store) AllowedSessions(ctx context.Context, kind domain.ResourceKind, resourceIDs []string, sessionIDs []uuid.UUID) (map[string][]uuid.UUID, error) {
	if len(resourceIDs) == 0 || len(sessionIDs) == 0 {
		return map[string][]uuid.UUID{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT resource_id, session_id
		 FROM auth.filter_changed_resources($1, $2::uuid[], $3::uuid[])`,
		string(kind), resourceIDs, sessionIDs)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	defer rows.Close()

	allowed := make(map[string][]uuid.UUID, len(resourceIDs))
	for rows.Next() {
		var (
			resourceID string
			sessionID  uuid.UUID
		)
		if err := rows.Scan(&resourceID, &sessionID); err != nil {
			return nil, domain.ErrStorageError.WithCause(err)
		}
		allowed[resourceID] = append(allowed[resourceID], sessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return allowed, nil
}
