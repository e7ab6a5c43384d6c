package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/core/service"
)

type stubSessionStore struct{}

func (stubSessionStore) ValidateSession(context.Context, uuid.UUID) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}
func (stubSessionStore) TouchSession(context.Context, uuid.UUID) error      { return nil }
func (stubSessionStore) InvalidateSession(context.Context, uuid.UUID) error { return nil }

type stubHealth struct{}

func (stubHealth) Ping(context.Context) error { return nil }

func TestNew(t *testing.T) {
	s := New(":3020", okHandler())
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.httpServer == nil {
		t.Error("httpServer is nil")
	}
	if s.handler == nil {
		t.Error("handler is nil")
	}
}

func TestServer_Shutdown(t *testing.T) {
	s := New("127.0.0.1:0", okHandler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Errorf("ListenAndServe() error = %v, want ErrServerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server never exited")
	}
}

func TestNewRouter_Routes(t *testing.T) {
	sessions := service.NewSessionManager(stubSessionStore{}, service.SessionManagerConfig{
		JWTSecret: "router-test-secret",
	})
	wsHit := false
	router := NewRouter(&RouterConfig{
		Sessions: sessions,
		Health:   stubHealth{},
		WS: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wsHit = true
			w.WriteHeader(http.StatusOK)
		}),
		GlobalRateLimit: 100,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/world/ws", nil))
	if rec.Code != http.StatusOK || !wsHit {
		t.Errorf("GET /world/ws = %d hit=%v, want routed", rec.Code, wsHit)
	}

	// No metrics handler configured means no /metrics route.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /unknown = %d, want 404", rec.Code)
	}
}
