// Package config defines the server configuration.
//
// spec.go holds the koanf-tagged ServerConfig sections, default.go the
// compiled-in defaults, verify.go the semantic checks (address formats,
// timing relationships between heartbeat and session settings), and
// sanitize.go a redacted copy for startup logging. Loading itself is
// done by internal/infra/confloader.
package config
