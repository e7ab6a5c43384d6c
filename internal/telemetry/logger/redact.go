package logger

import (
	"log/slog"
	"strings"
)

// redactedValue replaces the value of any credential-like attribute.
const redactedValue = "***REDACTED***"

// Session transport tokens are JWTs; "eyJ" is the base64 of the `{"`
// that opens every JWT header, so a bare value can be caught even
// under an innocuous key.
var jwtPrefix = "eyJ"

var sensitiveKeyFragments = []string{
	"password",
	"secret",
	"token",
	"credential",
	"auth",
	"bearer",
}

// IsSensitiveKey reports whether a key name suggests credential
// content.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// redactSensitive rewrites one attribute, recursing into groups. JWT
// values keep a short head and tail so two log lines can still be
// correlated; everything else sensitive is fully replaced.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if strings.HasPrefix(v, jwtPrefix) {
			return slog.String(a.Key, maskToken(v))
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, inner := range attrs {
			out[i] = redactSensitive(inner)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func maskToken(v string) string {
	body := v[len(jwtPrefix):]
	if len(body) <= 6 {
		return jwtPrefix + "***"
	}
	return jwtPrefix + body[:3] + "..." + body[len(body)-3:]
}
