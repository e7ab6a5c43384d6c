// Package service provides domain services for worldsync.
//
// SessionManager handles token validation, connection binding and the
// heartbeat sweep.
package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
	"github.com/vircadia/worldsync/pkg/cmap"
	"github.com/vircadia/worldsync/pkg/token"
)

// SessionStore defines the storage interface for session operations.
type SessionStore interface {
	// ValidateSession loads a session row by id.
	ValidateSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)

	// TouchSession advances a session's last-seen timestamp.
	TouchSession(ctx context.Context, sessionID uuid.UUID) error

	// InvalidateSession marks a session inactive. Idempotent.
	InvalidateSession(ctx context.Context, sessionID uuid.UUID) error
}

// Sink is the outbound half of a bound connection. Implemented by the
// transport layer.
type Sink interface {
	// TrySend enqueues an already-encoded frame without blocking.
	// Returns false when the queue is full.
	TrySend(frame []byte) bool

	// Close closes the underlying connection with a close code and
	// reason. Safe to call more than once.
	Close(code int, reason string)
}

// WebSocket close codes shared between services and transport.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Close reasons with on-the-wire meaning.
const (
	ReasonSessionExpired = "Session expired"
	ReasonBackpressure   = "Backpressure"
	ReasonShutdown       = "Server shutdown"
)

// sessionClaims is the JWT payload issued by the login path.
type sessionClaims struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Provider  string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// BoundSession is a session attached to a live connection.
type BoundSession struct {
	Session *domain.Session
	sink    Sink

	// touchLimit allows one store touch per heartbeat interval.
	touchLimit *rate.Limiter

	// invalidated marks the session for eviction on the next sweep.
	invalidated atomic.Bool
}

// Invalidated reports whether Invalidate was called for this session.
func (b *BoundSession) Invalidated() bool {
	return b.invalidated.Load()
}

// Sink returns the connection's outbound side.
func (b *BoundSession) Sink() Sink {
	return b.sink
}

// SessionManagerConfig configures the session manager.
type SessionManagerConfig struct {
	// JWTSecret verifies locally-issued token signatures. When empty,
	// signature checking is skipped and the stored-token comparison is
	// the sole authority.
	JWTSecret string

	// HeartbeatInterval is the touch rate-limit period.
	HeartbeatInterval time.Duration

	// RevalidateParallel bounds concurrent store re-validations during
	// a sweep.
	RevalidateParallel int

	Logger  logger.Logger
	Metrics *metric.Registry
}

// SessionManager validates tokens, tracks bound sessions and runs the
// heartbeat sweep.
type SessionManager struct {
	store    SessionStore
	secret   []byte
	interval time.Duration
	parallel int

	sessions *cmap.Map[string, *BoundSession]

	logger  logger.Logger
	metrics *metric.Registry
}

// NewSessionManager creates a session manager.
func NewSessionManager(store SessionStore, cfg SessionManagerConfig) *SessionManager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.RevalidateParallel < 1 {
		cfg.RevalidateParallel = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	return &SessionManager{
		store:    store,
		secret:   []byte(cfg.JWTSecret),
		interval: cfg.HeartbeatInterval,
		parallel: cfg.RevalidateParallel,
		sessions: cmap.New[string, *BoundSession](),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Validate decodes a token and confirms the store agrees it identifies
// a usable session. No side effects.
func (m *SessionManager) Validate(ctx context.Context, rawToken string) (*domain.Session, error) {
	// 1. Decode the token
	claims, err := m.parseClaims(rawToken)
	if err != nil {
		return nil, err
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, domain.ErrTokenMalformed.WithDetails("sessionId claim is not a uuid")
	}

	// 2. The store is authoritative for session state
	sess, err := m.store.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return nil, domain.ErrSessionRevoked.WithDetails("session_id=" + sessionID.String())
	}
	if sess.IsExpired() {
		return nil, domain.ErrSessionExpired.WithDetails("session_id=" + sessionID.String())
	}

	// 3. The presented token must match the stored one byte-for-byte
	if !token.VerifyEqual(rawToken, sess.Token) {
		return nil, domain.ErrTokenInvalid.WithDetails("token does not match session")
	}

	return sess, nil
}

func (m *SessionManager) parseClaims(rawToken string) (*sessionClaims, error) {
	if rawToken == "" {
		return nil, domain.ErrTokenMalformed.WithDetails("empty token")
	}

	claims := &sessionClaims{}

	if len(m.secret) == 0 {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
			return nil, domain.ErrTokenMalformed.WithCause(err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, domain.ErrTokenMalformed.WithCause(err)
	default:
		return nil, domain.ErrTokenInvalid.WithCause(err)
	}
}

// Bind registers a validated session against its connection. Rebinding
// the same session id replaces the previous connection.
func (m *SessionManager) Bind(sess *domain.Session, sink Sink) *BoundSession {
	bound := &BoundSession{
		Session:    sess,
		sink:       sink,
		touchLimit: rate.NewLimiter(rate.Every(m.interval), 1),
	}

	m.sessions.Set(sess.ID.String(), bound)
	m.metrics.SessionsActive.Set(float64(m.sessions.Count()))
	return bound
}

// Unbind removes a connection's session entry. The session itself
// persists in the store.
func (m *SessionManager) Unbind(sessionID uuid.UUID) {
	m.sessions.Delete(sessionID.String())
	m.metrics.SessionsActive.Set(float64(m.sessions.Count()))
}

// Get returns the bound session for an id, if any.
func (m *SessionManager) Get(sessionID uuid.UUID) (*BoundSession, bool) {
	return m.sessions.Get(sessionID.String())
}

// Touch advances last-seen for a bound session, at most once per
// heartbeat interval. When the store reports the session gone, the
// binding is evicted immediately: a heartbeating client keeps its
// in-memory LastSeen fresh, so the sweep would never re-validate it
// and the store touch is the only signal left.
func (m *SessionManager) Touch(ctx context.Context, sessionID uuid.UUID) error {
	bound, ok := m.sessions.Get(sessionID.String())
	if !ok {
		return domain.ErrSessionNotFound.WithDetails("session_id=" + sessionID.String())
	}

	bound.Session.Touch()
	if !bound.touchLimit.Allow() {
		return nil
	}

	err := m.store.TouchSession(ctx, sessionID)
	if err != nil && domain.GetErrorCode(err) == domain.ErrSessionNotFound.Code {
		m.logger.Info("session evicted on heartbeat",
			"session_id", sessionID,
			"token_fp", token.Fingerprint(bound.Session.Token),
		)
		m.evict(bound)
	}
	return err
}

// Invalidate marks the session inactive in the store. A bound
// connection is closed with code 1000 on the next heartbeat check.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.store.InvalidateSession(ctx, sessionID); err != nil {
		return err
	}
	if bound, ok := m.sessions.Get(sessionID.String()); ok {
		bound.invalidated.Store(true)
	}
	return nil
}

// Logout invalidates the session a token refers to. It is idempotent:
// malformed tokens and unknown or already-dead sessions all succeed,
// since there is nothing left to invalidate either way.
func (m *SessionManager) Logout(ctx context.Context, rawToken string) error {
	claims, err := m.parseClaims(rawToken)
	if err != nil {
		return nil
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil
	}

	if err := m.Invalidate(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	return nil
}

// ActiveCount returns the number of bound sessions.
func (m *SessionManager) ActiveCount() int {
	return m.sessions.Count()
}
