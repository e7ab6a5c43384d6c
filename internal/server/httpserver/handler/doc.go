// Package handler provides the REST handlers for worldsync.
//
// The REST surface is small on purpose: session validate and logout
// under /world/auth, plus health and metrics. Everything stateful
// happens over the websocket; these endpoints exist for login flows
// and operators.
package handler
