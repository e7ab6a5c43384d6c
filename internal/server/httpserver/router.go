package httpserver

import (
	"net/http"

	"github.com/vircadia/worldsync/internal/core/service"
	"github.com/vircadia/worldsync/internal/server/httpserver/handler"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Sessions validates and invalidates sessions for the REST
	// endpoints.
	Sessions *service.SessionManager

	// Health answers /health probes.
	Health handler.HealthChecker

	// WS handles the websocket upgrade at /world/ws.
	WS http.Handler

	// Metrics serves /metrics in Prometheus text format.
	Metrics http.Handler

	// Logger for request logging.
	Logger logger.Logger

	// CORSAllowedOrigins is the allowed CORS origin list (empty =
	// allow all).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the per-IP request rate limit on the REST
	// endpoints (0 = unlimited). The websocket path is exempt; its
	// abuse controls are the session layer and send-queue bounds.
	GlobalRateLimit int

	// EnableAudit enables per-request audit logging.
	EnableAudit bool
}

// NewRouter wires the REST handlers, the websocket upgrade path and
// the middleware chains into one http.Handler.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	h := handler.New(cfg.Sessions, cfg.Health, cfg.Metrics, cfg.Logger)

	mux := http.NewServeMux()

	// Probes and metrics carry the light chain only.
	probeChain := []Middleware{RequestID(), Recover(cfg.Logger)}
	mux.Handle("GET /health", Chain(h, probeChain...))
	mux.Handle("GET /ready", Chain(h, probeChain...))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(h, probeChain...))
	}

	// Auth endpoints get the full chain.
	restMiddlewares := []Middleware{
		RequestID(),
		Recover(cfg.Logger),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.GlobalRateLimit > 0 {
		restMiddlewares = append(restMiddlewares, RateLimit(cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		restMiddlewares = append(restMiddlewares, Audit(cfg.Logger))
	}
	restHandler := Chain(h, restMiddlewares...)

	mux.Handle("POST /world/auth/session/validate", restHandler)
	mux.Handle("POST /world/auth/session/logout", restHandler)

	// The upgrade path authenticates inside the websocket server and
	// never shares the REST rate limiter.
	if cfg.WS != nil {
		mux.Handle("GET /world/ws", Chain(cfg.WS, RequestID(), Recover(cfg.Logger)))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 100,
		EnableAudit:     true,
	}
}
