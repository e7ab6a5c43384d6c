// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for worldsync-server.
type ServerConfig struct {
	Server      ServerSection      `koanf:"server"`
	Database    DatabaseSection    `koanf:"database"`
	Auth        AuthSection        `koanf:"auth"`
	Session     SessionSection     `koanf:"session"`
	Replication ReplicationSection `koanf:"replication"`
	Bridge      BridgeSection      `koanf:"bridge"`
	Log         LogSection         `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server that carries both the REST
// endpoints and the WebSocket upgrade path.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// DatabaseSection configures the backing store connection.
type DatabaseSection struct {
	// URL is the Postgres connection string.
	URL string `koanf:"url"`

	// MinConns and MaxConns bound the connection pool.
	MinConns int32 `koanf:"min_conns"`
	MaxConns int32 `koanf:"max_conns"`

	// AcquireTimeout bounds how long a caller waits for a pooled
	// connection before failing.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`

	// CAFile optionally points at a PEM bundle to trust for the
	// database's TLS certificate, for deployments with a private CA.
	CAFile string `koanf:"ca_file"`
}

// AuthSection configures token validation.
type AuthSection struct {
	// JWTSecret verifies locally-issued session tokens. Tokens from
	// external providers are validated by the store.
	JWTSecret string `koanf:"jwt_secret"`

	// DefaultProvider is assumed when a token carries no provider hint.
	DefaultProvider string `koanf:"default_provider"`
}

// SessionSection configures session lifecycle timing.
type SessionSection struct {
	// HeartbeatInterval is how often clients are expected to send a
	// heartbeat frame. Touch calls are rate limited to this interval.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// HeartbeatTimeout is advertised to clients in CONFIG_RESPONSE.
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`

	// WSCheckInterval is the heartbeat sweep period. Sessions with no
	// activity for longer than this are re-validated against the store.
	WSCheckInterval time.Duration `koanf:"ws_check_interval"`

	// MaxAge is the maximum session lifetime.
	MaxAge time.Duration `koanf:"max_age"`

	// CleanupInterval is how often the store reaps expired sessions.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// InactiveTimeout is the idle cutoff after which a session is
	// considered abandoned.
	InactiveTimeout time.Duration `koanf:"inactive_timeout"`

	// RevalidateParallel bounds concurrent store re-validations during
	// a sweep.
	RevalidateParallel int `koanf:"revalidate_parallel"`
}

// ReplicationSection configures the query dispatcher and fan-out.
type ReplicationSection struct {
	// SendQueueCapacity is the per-connection outbound frame queue size.
	// Overflow closes the connection with code 1011.
	SendQueueCapacity int `koanf:"send_queue_capacity"`

	// MaxConcurrentQueries bounds queries executing across all
	// connections.
	MaxConcurrentQueries int64 `koanf:"max_concurrent_queries"`

	// QueryTimeout is the per-query execution deadline.
	QueryTimeout time.Duration `koanf:"query_timeout"`

	// MaxResultRows caps rows returned by a single client query.
	MaxResultRows int `koanf:"max_result_rows"`
}

// BridgeSection configures the store notification listener.
type BridgeSection struct {
	// ReconnectBase and ReconnectCap bound the listener reconnect
	// backoff.
	ReconnectBase time.Duration `koanf:"reconnect_base"`
	ReconnectCap  time.Duration `koanf:"reconnect_cap"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
