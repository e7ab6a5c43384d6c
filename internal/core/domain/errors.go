// Package domain defines the core domain models for worldsync.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "WS-SESS-4041")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrTokenMalformed indicates the token could not be decoded.
	ErrTokenMalformed = NewDomainError("WS-AUTH-4000", "TOKEN_MALFORMED")

	// ErrTokenInvalid indicates the token does not match the stored session token.
	ErrTokenInvalid = NewDomainError("WS-AUTH-4010", "TOKEN_INVALID")

	// ErrAuthContextFailed indicates the store rejected the agent context install.
	ErrAuthContextFailed = NewDomainError("WS-AUTH-4013", "AUTH_CONTEXT_FAILED")

	// ErrSubscribeDenied indicates the store policy rejected a sync group subscription.
	ErrSubscribeDenied = NewDomainError("WS-AUTH-4030", "SUBSCRIBE_DENIED")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates the store has no record of the session.
	ErrSessionNotFound = NewDomainError("WS-SESS-4040", "session not found")

	// ErrSessionExpired indicates the session's expiry has passed.
	ErrSessionExpired = NewDomainError("WS-SESS-4041", "SESSION_EXPIRED")

	// ErrSessionRevoked indicates the session was marked inactive.
	ErrSessionRevoked = NewDomainError("WS-SESS-4042", "SESSION_REVOKED")
)

// ============================================================================
// Query Errors (QERY)
// ============================================================================

var (
	// ErrQueryTimeout indicates the query exceeded its deadline.
	ErrQueryTimeout = NewDomainError("WS-QERY-4080", "QUERY_TIMEOUT")

	// ErrConnectionClosed indicates the connection closed before the response could be sent.
	ErrConnectionClosed = NewDomainError("WS-QERY-4990", "CONNECTION_CLOSED")

	// ErrResultTooLarge indicates the result set exceeded the configured row cap.
	ErrResultTooLarge = NewDomainError("WS-QERY-4130", "query result exceeds row limit")
)

// ============================================================================
// Replication Errors (SYNC)
// ============================================================================

var (
	// ErrBackpressure indicates the session's outbound queue overflowed.
	ErrBackpressure = NewDomainError("WS-SYNC-5030", "Backpressure")

	// ErrProtocolViolation indicates an unparseable or unknown frame.
	ErrProtocolViolation = NewDomainError("WS-SYNC-4000", "Protocol violation")

	// ErrSyncGroupNotFound indicates an unknown sync group name.
	ErrSyncGroupNotFound = NewDomainError("WS-SYNC-4040", "sync group not found")
)

// ============================================================================
// Tick Errors (TICK)
// ============================================================================

var (
	// ErrTickAbandoned indicates a capture failed and the tick was not committed.
	ErrTickAbandoned = NewDomainError("WS-TICK-5001", "tick abandoned")

	// ErrTickInvariant indicates a tick invariant violation (non-monotonic number,
	// concurrent capture) that forces the group loop to restart.
	ErrTickInvariant = NewDomainError("WS-TICK-5002", "tick invariant violation")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("WS-SYS-5000", "internal server error")

	// ErrStorageError indicates a store layer error.
	ErrStorageError = NewDomainError("WS-SYS-5001", "storage error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("WS-SYS-4000", "bad request")
)
