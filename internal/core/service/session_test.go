package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vircadia/worldsync/internal/core/domain"
)

const testSecret = "test-hmac-secret"

// mockSessionStore is an in-memory SessionStore.
type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	touches  int
	failWith error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (s *mockSessionStore) ValidateSession(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *mockSessionStore) TouchSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return domain.ErrSessionNotFound.WithDetails("session_id=" + id.String())
	}
	sess.LastSeen = time.Now().UnixMilli()
	return nil
}

func (s *mockSessionStore) InvalidateSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Active = false
	}
	return nil
}

func (s *mockSessionStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

// mockSink records frames and close calls.
type mockSink struct {
	mu        sync.Mutex
	frames    [][]byte
	full      bool
	closed    bool
	closeCode int
	reason    string
}

func (s *mockSink) TrySend(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *mockSink) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	s.reason = reason
}

func (s *mockSink) closedWith() (bool, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode, s.reason
}

// signToken builds a JWT the way the login path does.
func signToken(t *testing.T, sessionID, agentID uuid.UUID) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sessionId": sessionID.String(),
		"agentId":   agentID.String(),
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func seedSession(t *testing.T, store *mockSessionStore) (*domain.Session, string) {
	t.Helper()
	sessionID := uuid.New()
	agentID := uuid.New()
	tok := signToken(t, sessionID, agentID)

	sess := &domain.Session{
		ID:        sessionID,
		AgentID:   agentID,
		Provider:  "system",
		Token:     tok,
		CreatedAt: time.Now().UnixMilli(),
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
		LastSeen:  time.Now().UnixMilli(),
		Active:    true,
	}
	store.sessions[sessionID] = sess
	return sess, tok
}

func newTestManager(store *mockSessionStore) *SessionManager {
	return NewSessionManager(store, SessionManagerConfig{
		JWTSecret:         testSecret,
		HeartbeatInterval: 50 * time.Millisecond,
	})
}

func TestValidate(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, tok := seedSession(t, store)

	got, err := m.Validate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.ID != sess.ID || got.AgentID != sess.AgentID {
		t.Errorf("Validate() = %v/%v, want %v/%v", got.ID, got.AgentID, sess.ID, sess.AgentID)
	}
}

func TestValidate_Errors(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, tok := seedSession(t, store)

	tests := []struct {
		name     string
		token    string
		prepare  func()
		wantCode string
	}{
		{
			name:     "empty token",
			token:    "",
			wantCode: domain.ErrTokenMalformed.Code,
		},
		{
			name:     "garbage token",
			token:    "not-a-jwt",
			wantCode: domain.ErrTokenMalformed.Code,
		},
		{
			name:     "wrong signature",
			token:    mustSignWith(t, sess.ID, "wrong-secret"),
			wantCode: domain.ErrTokenInvalid.Code,
		},
		{
			name:     "unknown session",
			token:    signToken(t, uuid.New(), uuid.New()),
			wantCode: domain.ErrSessionNotFound.Code,
		},
		{
			name:     "revoked session",
			token:    tok,
			prepare:  func() { store.sessions[sess.ID].Active = false },
			wantCode: domain.ErrSessionRevoked.Code,
		},
		{
			name:  "expired session",
			token: tok,
			prepare: func() {
				store.sessions[sess.ID].Active = true
				store.sessions[sess.ID].ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
			},
			wantCode: domain.ErrSessionExpired.Code,
		},
		{
			name:  "stored token mismatch",
			token: tok,
			prepare: func() {
				store.sessions[sess.ID].ExpiresAt = time.Now().Add(time.Hour).UnixMilli()
				store.sessions[sess.ID].Token = "rotated"
			},
			wantCode: domain.ErrTokenInvalid.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare()
			}
			_, err := m.Validate(context.Background(), tt.token)
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if code := domain.GetErrorCode(err); code != tt.wantCode {
				t.Errorf("error code = %q, want %q (%v)", code, tt.wantCode, err)
			}
		})
	}
}

func mustSignWith(t *testing.T, sessionID uuid.UUID, secret string) string {
	t.Helper()
	claims := jwt.MapClaims{"sessionId": sessionID.String(), "agentId": uuid.NewString()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestValidate_NoSecretSkipsSignature(t *testing.T) {
	store := newMockSessionStore()
	m := NewSessionManager(store, SessionManagerConfig{HeartbeatInterval: time.Second})

	sessionID := uuid.New()
	tok := mustSignWith(t, sessionID, "whatever")
	store.sessions[sessionID] = &domain.Session{
		ID:        sessionID,
		AgentID:   uuid.New(),
		Token:     tok,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
		Active:    true,
	}

	if _, err := m.Validate(context.Background(), tok); err != nil {
		t.Errorf("Validate() without secret error = %v", err)
	}
}

func TestBindUnbind(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)

	m.Bind(sess, &mockSink{})
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
	if _, ok := m.Get(sess.ID); !ok {
		t.Error("Get() did not find bound session")
	}

	m.Unbind(sess.ID)
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after Unbind = %d, want 0", m.ActiveCount())
	}
}

func TestTouch_RateLimited(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	m.Bind(sess, &mockSink{})

	// First touch reaches the store, immediate repeats do not.
	for i := 0; i < 5; i++ {
		if err := m.Touch(context.Background(), sess.ID); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}
	if got := store.touchCount(); got != 1 {
		t.Errorf("store touches = %d, want 1", got)
	}

	// After the heartbeat interval the limiter refills.
	time.Sleep(60 * time.Millisecond)
	if err := m.Touch(context.Background(), sess.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if got := store.touchCount(); got != 2 {
		t.Errorf("store touches after interval = %d, want 2", got)
	}
}

func TestTouch_UnknownSession(t *testing.T) {
	m := newTestManager(newMockSessionStore())
	err := m.Touch(context.Background(), uuid.New())
	if domain.GetErrorCode(err) != domain.ErrSessionNotFound.Code {
		t.Errorf("Touch() error = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestTouch_StoreInvalidationEvicts(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	sink := &mockSink{}
	m.Bind(sess, sink)

	// Invalidate behind the manager's back, the way a QUERY that kills
	// its own session does. The client keeps heartbeating, so LastSeen
	// stays fresh and the sweep alone would never re-validate it.
	store.sessions[sess.ID].Active = false

	// The touch limiter starts full, so this heartbeat reaches the
	// store and sees the invalidation.
	err := m.Touch(context.Background(), sess.ID)
	if domain.GetErrorCode(err) != domain.ErrSessionNotFound.Code {
		t.Fatalf("Touch() error = %v, want SESSION_NOT_FOUND", err)
	}

	closed, code, reason := sink.closedWith()
	if !closed {
		t.Fatal("store-invalidated session not closed on touch")
	}
	if code != CloseNormal || reason != ReasonSessionExpired {
		t.Errorf("close = (%d, %q), want (1000, %q)", code, reason, ReasonSessionExpired)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestSweep_EvictsExpired(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	sink := &mockSink{}
	m.Bind(sess, sink)

	// Make the store reject the session, then age the bound copy so
	// the sweep re-validates it.
	store.sessions[sess.ID].Active = false
	bound, _ := m.Get(sess.ID)
	bound.Session.LastSeen = time.Now().Add(-time.Minute).UnixMilli()

	m.SweepOnce(context.Background(), time.Second)

	closed, code, reason := sink.closedWith()
	if !closed {
		t.Fatal("sweep did not close the connection")
	}
	if code != CloseNormal || reason != ReasonSessionExpired {
		t.Errorf("close = (%d, %q), want (1000, %q)", code, reason, ReasonSessionExpired)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestSweep_KeepsFreshSessions(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	sink := &mockSink{}
	m.Bind(sess, sink)

	m.SweepOnce(context.Background(), time.Minute)

	if closed, _, _ := sink.closedWith(); closed {
		t.Error("sweep closed a fresh session")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestSweep_TransientStoreErrorDefers(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	sink := &mockSink{}
	m.Bind(sess, sink)

	bound, _ := m.Get(sess.ID)
	bound.Session.LastSeen = time.Now().Add(-time.Minute).UnixMilli()
	store.failWith = domain.ErrStorageError.WithCause(errors.New("connection refused"))

	m.SweepOnce(context.Background(), time.Second)

	if closed, _, _ := sink.closedWith(); closed {
		t.Error("transient store error must not evict")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestInvalidate_ClosesOnNextSweep(t *testing.T) {
	store := newMockSessionStore()
	m := newTestManager(store)
	sess, _ := seedSession(t, store)
	sink := &mockSink{}
	m.Bind(sess, sink)

	if err := m.Invalidate(context.Background(), sess.ID); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if !store.sessions[sess.ID].Active {
		t.Error("store session still active after Invalidate")
	}

	// Connection stays open until the sweep runs.
	if closed, _, _ := sink.closedWith(); closed {
		t.Fatal("Invalidate closed the connection eagerly")
	}

	m.SweepOnce(context.Background(), time.Minute)
	closed, code, _ := sink.closedWith()
	if !closed || code != CloseNormal {
		t.Errorf("sweep after Invalidate: closed=%v code=%d, want true/1000", closed, code)
	}
}
