package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Fingerprint computes a short hex SHA-256 fingerprint of a token,
// safe for logging. The full token is never logged.
func Fingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:8])
}

// VerifyEqual compares a presented token against the stored token
// byte-for-byte in constant time.
func VerifyEqual(presented, stored string) bool {
	if len(presented) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
