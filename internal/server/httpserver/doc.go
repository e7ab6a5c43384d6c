// Package httpserver provides the HTTP/HTTPS front for worldsync.
//
// One listener serves three surfaces:
//
//   - Auth endpoints: POST /world/auth/session/validate, /session/logout
//   - The websocket upgrade path: GET /world/ws
//   - Operator endpoints: /health, /ready, /metrics
//
// Middleware chains differ per surface: REST carries request IDs,
// panic recovery, CORS, per-IP rate limiting and audit logging; the
// websocket path skips the rate limiter since its abuse controls live
// in the session layer.
package httpserver
