package handler

import "time"

// Response is the standard API response envelope. All JSON responses
// use this format (except /metrics, which is Prometheus text).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ValidateSessionRequest is the body for POST /world/auth/session/validate.
type ValidateSessionRequest struct {
	Token    string `json:"token"`
	Provider string `json:"provider,omitempty"`
}

// ValidateSessionData is the success payload for session validate.
type ValidateSessionData struct {
	Valid     bool   `json:"valid"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// LogoutRequest is the body for POST /world/auth/session/logout.
type LogoutRequest struct {
	Token    string `json:"token"`
	Provider string `json:"provider,omitempty"`
}
