// Package logger provides structured logging for worldsync.
//
// It wraps the standard library log/slog to provide structured JSON
// logging with automatic redaction of session tokens and other
// credential-bearing fields.
package logger
