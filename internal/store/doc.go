// Package store adapts the worldsync Postgres schema for the server.
//
// The database owns the authoritative state: sessions, entities, sync
// group configuration, tick capture and change-set computation all live
// in server-side functions. This package is a thin adapter over pgx:
//
//   - store.go: pool construction, health checks
//   - session.go: session validation, touch, invalidation
//   - context.go: per-transaction agent context installation
//   - query.go: client query execution under agent identity
//   - tick.go: tick capture, change-set diffs, retention sweep
//   - access.go: subscription policy and change-set filtering
//   - listener.go: dedicated LISTEN/NOTIFY connection
//
// All row decoding targets internal/core/domain types.
package store
