// Package token provides opaque token utilities for worldsync.
//
// Session transport tokens are opaque strings minted by the login
// path and stored alongside the session row. The server never parses
// them beyond the JWT envelope; it only compares them byte-for-byte
// against the stored value, in constant time, and logs them only as
// short SHA-256 fingerprints.
package token
