package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session represents an authenticated, long-lived binding between an
// agent and the server, independent of any single connection.
//
// Sessions are created by an out-of-band login path; the server only
// validates, binds, touches and invalidates them.
type Session struct {
	// ID is the session identifier (store-assigned UUID).
	ID uuid.UUID `json:"id"`

	// AgentID identifies the agent that owns this session.
	AgentID uuid.UUID `json:"agent_id"`

	// Provider is the auth provider the session was created through.
	Provider string `json:"provider"`

	// Token is the opaque transport token. It must match the stored
	// token byte-for-byte for the session to be usable.
	Token string `json:"-"`

	// CreatedAt is the session creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// ExpiresAt is the absolute expiration timestamp (Unix milliseconds).
	ExpiresAt int64 `json:"expires_at"`

	// LastSeen is the last activity timestamp (Unix milliseconds).
	// It only ever advances.
	LastSeen int64 `json:"last_seen"`

	// Active is the soft-delete flag. An inactive session is revoked.
	Active bool `json:"active"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return time.Now().UnixMilli() > s.ExpiresAt
}

// Usable reports whether the session may be used: active and unexpired.
func (s *Session) Usable() bool {
	return s.Active && !s.IsExpired()
}

// Touch advances LastSeen to now. LastSeen is monotonic: a touch with
// an older timestamp is a no-op.
func (s *Session) Touch() {
	now := time.Now().UnixMilli()
	if now > s.LastSeen {
		s.LastSeen = now
	}
}

// CreatedAtTime returns CreatedAt as time.Time.
func (s *Session) CreatedAtTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// ExpiresAtTime returns ExpiresAt as time.Time.
func (s *Session) ExpiresAtTime() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}

// LastSeenTime returns LastSeen as time.Time.
func (s *Session) LastSeenTime() time.Time {
	return time.UnixMilli(s.LastSeen)
}
