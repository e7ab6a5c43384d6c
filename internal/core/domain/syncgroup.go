package domain

import "time"

// DefaultSyncGroup is the sync group every world defines.
const DefaultSyncGroup = "public.NORMAL"

// SyncGroup is a named partition of world state with its own tick rate
// and membership. Configuration lives in the store; it is immutable
// during normal operation and reloaded only on admin change.
type SyncGroup struct {
	// Name is the sync group identifier, e.g. "public.NORMAL".
	Name string `json:"name"`

	// ServerTickRateMs is the tick interval in milliseconds.
	ServerTickRateMs int `json:"server_tick_rate_ms"`

	// MaxTicks bounds tick and snapshot retention.
	MaxTicks int `json:"server_tick_max_history"`

	// ClientRenderDelayMs is advisory client-side interpolation delay.
	ClientRenderDelayMs int `json:"client_render_delay_ms"`

	// MaxClientPredictionMs bounds client-side prediction.
	MaxClientPredictionMs int `json:"client_max_prediction_time_ms"`

	// PacketTimingVarianceMs is the tolerated packet timing jitter.
	PacketTimingVarianceMs int `json:"network_packet_timing_variance_ms"`
}

// TickInterval returns the tick interval as a duration.
func (g *SyncGroup) TickInterval() time.Duration {
	return time.Duration(g.ServerTickRateMs) * time.Millisecond
}

// RetentionWindow returns how long ticks and snapshots are kept:
// max_ticks * interval.
func (g *SyncGroup) RetentionWindow() time.Duration {
	return time.Duration(g.MaxTicks) * g.TickInterval()
}

// Validate checks the configuration is usable for running a tick loop.
func (g *SyncGroup) Validate() error {
	if g.Name == "" {
		return ErrSyncGroupNotFound.WithDetails("empty sync group name")
	}
	if g.ServerTickRateMs <= 0 {
		return ErrBadRequest.WithDetails("server_tick_rate_ms must be positive")
	}
	if g.MaxTicks <= 0 {
		return ErrBadRequest.WithDetails("server_tick_max_history must be positive")
	}
	return nil
}
