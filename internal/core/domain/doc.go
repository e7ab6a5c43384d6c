// Package domain defines the core domain models for worldsync.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling: sessions, agents, sync
// groups, ticks and change sets, plus the structured error type
// shared by every layer.
package domain
