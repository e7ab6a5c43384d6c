package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionUsable(t *testing.T) {
	now := time.Now().UnixMilli()

	tests := []struct {
		name    string
		session Session
		usable  bool
	}{
		{
			name:    "active and unexpired",
			session: Session{ID: uuid.New(), Active: true, ExpiresAt: now + 60_000},
			usable:  true,
		},
		{
			name:    "active with no expiry",
			session: Session{ID: uuid.New(), Active: true},
			usable:  true,
		},
		{
			name:    "expired",
			session: Session{ID: uuid.New(), Active: true, ExpiresAt: now - 1},
			usable:  false,
		},
		{
			name:    "revoked",
			session: Session{ID: uuid.New(), Active: false, ExpiresAt: now + 60_000},
			usable:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Usable(); got != tt.usable {
				t.Errorf("Usable() = %v, want %v", got, tt.usable)
			}
		})
	}
}

func TestSessionTouchMonotonic(t *testing.T) {
	s := Session{LastSeen: time.Now().Add(time.Hour).UnixMilli()}
	before := s.LastSeen

	s.Touch()
	if s.LastSeen != before {
		t.Error("Touch moved LastSeen backwards")
	}

	s.LastSeen = 0
	s.Touch()
	if s.LastSeen == 0 {
		t.Error("Touch did not advance LastSeen")
	}
}

func TestSessionTimes(t *testing.T) {
	s := Session{}
	if !s.ExpiresAtTime().IsZero() {
		t.Error("zero ExpiresAt should map to zero time")
	}

	s.ExpiresAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if s.ExpiresAtTime().UTC().Year() != 2026 {
		t.Errorf("ExpiresAtTime = %v", s.ExpiresAtTime())
	}
}
