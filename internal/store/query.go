package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// Execute runs one client-supplied statement under the session's
// identity and returns its rows. The statement executes inside a
// short-lived transaction: begin, install agent context, execute,
// commit on success or roll back on error. Parameters bind positionally
// through pgx; no textual interpolation happens here.
//
// Result size is capped at maxRows. Exceeding the cap fails the query
// rather than truncating silently.
func (s *Store) Execute(ctx context.Context, sessionID uuid.UUID, token, sql string, params []any, maxRows int) ([]map[string]any, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := setAgentContext(ctx, tx, sessionID, token); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}

	result, err := collectRows(rows, maxRows)
	if err != nil {
		return nil, err
	}

	clearAgentContext(ctx, tx)
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return result, nil
}

// collectRows decodes a result set into generic maps, enforcing the
// row cap. Closes rows before returning.
func collectRows(rows pgx.Rows, maxRows int) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := make([]map[string]any, 0, 16)

	for rows.Next() {
		if maxRows > 0 && len(result) >= maxRows {
			return nil, domain.ErrResultTooLarge.WithDetails(
				fmt.Sprintf("result exceeds %d rows", maxRows))
		}

		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
