package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// setAgentContext installs the session's identity on the transaction.
// The database function checks the (session, token) pair against the
// stored session and returns false on any mismatch. The two-argument
// form is the only one the adapter speaks.
func setAgentContext(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, token string) error {
	var ok bool
	err := tx.QueryRow(ctx,
		`SELECT auth.set_agent_context($1, $2)`,
		sessionID, token).Scan(&ok)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if !ok {
		return domain.ErrAuthContextFailed.WithDetails("session_id=" + sessionID.String())
	}
	return nil
}

// clearAgentContext resets transaction-local identity. Errors are
// ignored: the transaction ends immediately after and the context dies
// with it.
func clearAgentContext(ctx context.Context, tx pgx.Tx) {
	_, _ = tx.Exec(ctx, `SELECT auth.clear_agent_context()`)
}
