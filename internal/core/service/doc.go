// Package service provides domain services for worldsync.
//
// Domain services contain pure business logic and orchestrate operations
// on domain models. They define interfaces for storage dependencies,
// allowing for dependency injection and testability.
//
// This package contains:
//
//   - SessionManager: token validation, connection binding, heartbeat sweep
//   - QueryDispatcher: per-connection FIFO query execution under identity
//   - SubscriptionManager: sync group membership and change-set fan-out
//
// Services are stateless apart from their session and subscription
// indices, and safe for concurrent use.
package service
