package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// ListSyncGroups loads every configured sync group.
func (s *Store) ListSyncGroups(ctx context.Context) ([]domain.SyncGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT general__sync_group,
		        server__tick__rate_ms,
		        server__tick__max_ticks_buffer,
		        client__render_delay_ms,
		        client__max_prediction_time_ms,
		        network__packet_timing_variance_ms
		 FROM auth.sync_groups
		 ORDER BY general__sync_group`)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	defer rows.Close()

	var groups []domain.SyncGroup
	for rows.Next() {
		var g domain.SyncGroup
		if err := rows.Scan(
			&g.Name,
			&g.ServerTickRateMs,
			&g.MaxTicks,
			&g.ClientRenderDelayMs,
			&g.MaxClientPredictionMs,
			&g.PacketTimingVarianceMs,
		); err != nil {
			return nil, domain.ErrStorageError.WithCause(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return groups, nil
}

// CaptureTick runs the server-side capture procedure for one sync
// group. The database function holds the per-group advisory lock,
// trims expired ticks, assigns the next number, snapshots entity rows
// and returns the completed tick record.
func (s *Store) CaptureTick(ctx context.Context, syncGroup string) (*domain.Tick, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT general__tick_id,
		        tick__number,
		        group__sync,
		        tick__start_time,
		        tick__end_time,
		        tick__duration_ms,
		        tick__entity_states_processed,
		        tick__script_states_processed,
		        tick__asset_states_processed,
		        tick__is_delayed,
		        tick__headroom_ms
		 FROM tick.capture_tick_state($1)`,
		syncGroup)

	var t domain.Tick
	err := row.Scan(
		&t.ID,
		&t.Number,
		&t.SyncGroup,
		&t.StartTime,
		&t.EndTime,
		&t.DurationMs,
		&t.EntityStatesProcessed,
		&t.ScriptStatesProcessed,
		&t.AssetStatesProcessed,
		&t.Delayed,
		&t.HeadroomMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSyncGroupNotFound.WithDetails("sync_group=" + syncGroup)
	}
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return &t, nil
}

// DiffEntities returns entity changes between the latest two ticks of
// the group. On the first tick the function emits a synthetic INSERT
// for every entity in the group.
func (s *Store) DiffEntities(ctx context.Context, syncGroup string) ([]domain.Change, error) {
	return s.diffChanges(ctx, domain.ResourceEntity,
		`SELECT general__entity_id, operation, changes
		 FROM tick.get_changed_entity_states_between_latest_ticks($1)`,
		syncGroup)
}

// DiffScripts returns script changes in the latest tick window,
// resolved from the audit log against current base-table state.
func (s *Store) DiffScripts(ctx context.Context, syncGroup string) ([]domain.Change, error) {
	return s.diffChanges(ctx, domain.ResourceScript,
		`SELECT general__script_id, operation, changes
		 FROM tick.get_changed_script_states_between_latest_ticks($1)`,
		syncGroup)
}

// DiffAssets is the asset counterpart of DiffScripts.
func (s *Store) DiffAssets(ctx context.Context, syncGroup string) ([]domain.Change, error) {
	return s.diffChanges(ctx, domain.ResourceAsset,
		`SELECT general__asset_id, operation, changes
		 FROM tick.get_changed_asset_states_between_latest_ticks($1)`,
		syncGroup)
}

func (s *Store) diffChanges(ctx context.Context, kind domain.ResourceKind, sql, syncGroup string) ([]domain.Change, error) {
	rows, err := s.pool.Query(ctx, sql, syncGroup)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	defer rows.Close()

	var changes []domain.Change
	for rows.Next() {
		var (
			c       domain.Change
			op      string
			payload []byte
		)
		if err := rows.Scan(&c.ID, &op, &payload); err != nil {
			return nil, domain.ErrStorageError.WithCause(err)
		}
		c.Kind = kind
		c.Operation = domain.Operation(op)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &c.Fields); err != nil {
				return nil, domain.ErrStorageError.WithCause(err)
			}
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return changes, nil
}

// SweepCrashedTicks deletes leftovers from a previous unclean stop:
// placeholder rows whose capture never completed. Snapshot rows cascade.
func (s *Store) SweepCrashedTicks(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tick.world_ticks
		 WHERE tick__end_time = tick__start_time
		   AND tick__entity_states_processed = 0`)
	if err != nil {
		return 0, domain.ErrStorageError.WithCause(err)
	}
	return tag.RowsAffected(), nil
}

// TrimTicks deletes ticks and snapshots for the group older than the
// retention window. Capture already trims inline; this is the explicit
// form used on group reload.
func (s *Store) TrimTicks(ctx context.Context, syncGroup string, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tick.world_ticks
		 WHERE group__sync = $1
		   AND tick__start_time < now() - $2::interval`,
		syncGroup, retention)
	if err != nil {
		return 0, domain.ErrStorageError.WithCause(err)
	}
	return tag.RowsAffected(), nil
}
