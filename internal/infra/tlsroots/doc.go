// Package tlsroots provides TLS certificate management for worldsync.
//
// Two concerns live here:
//
//   - roots.go: root CA pools, used to trust a private CA for the
//     database connection
//   - watcher.go: server certificate hot-reload via fsnotify, so cert
//     rotation never needs a restart
package tlsroots
