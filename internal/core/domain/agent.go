package domain

import "github.com/google/uuid"

// Agent is the identity that owns sessions. Agents are declared in the
// store; the server never mints them.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	IsAdmin     bool      `json:"is_admin"`
	IsSystem    bool      `json:"is_system"`
	IsAnonymous bool      `json:"is_anonymous"`
}
