package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tick records one scheduled snapshot event for a sync group. Ticks are
// numbered monotonically per group and persisted until trimmed by the
// retention window.
type Tick struct {
	ID        uuid.UUID `json:"id"`
	SyncGroup string    `json:"group__sync"`

	// Number is the per-group tick number. (SyncGroup, Number) is unique.
	Number int64 `json:"tick__number"`

	StartTime time.Time `json:"tick__start_time"`
	EndTime   time.Time `json:"tick__end_time"`

	// DurationMs is how long the capture took.
	DurationMs float64 `json:"tick__duration_ms"`

	// Counts of rows touched during this tick window.
	EntityStatesProcessed int `json:"tick__entity_states_processed"`
	ScriptStatesProcessed int `json:"tick__script_states_processed"`
	AssetStatesProcessed  int `json:"tick__asset_states_processed"`

	// Delayed is set if the capture overran the group interval.
	Delayed bool `json:"tick__is_delayed"`

	// HeadroomMs is interval minus duration; negative when delayed.
	HeadroomMs float64 `json:"tick__headroom_ms"`
}

// Overran reports whether the capture exceeded the given target interval.
func (t *Tick) Overran(interval time.Duration) bool {
	return t.DurationMs > float64(interval.Milliseconds())
}
