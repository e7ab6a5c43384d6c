package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vircadia/worldsync/internal/infra/tlsroots"
)

// Config configures the store adapter.
type Config struct {
	// URL is the Postgres connection string.
	URL string

	// CAFile is an optional PEM bundle of extra root CAs trusted for
	// the database connection. Empty means the URL's sslmode settings
	// apply unchanged.
	CAFile string

	// MinConns and MaxConns bound the connection pool.
	MinConns int32
	MaxConns int32

	// AcquireTimeout bounds how long callers wait for a pooled
	// connection.
	AcquireTimeout time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Store is the Postgres-backed state adapter.
type Store struct {
	pool   *pgxpool.Pool
	url    string
	logger *slog.Logger
}

// New creates a store and establishes the connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: database url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}

	if cfg.CAFile != "" {
		roots, err := tlsroots.NewPool()
		if err != nil {
			return nil, fmt.Errorf("store: load system roots: %w", err)
		}
		if err := roots.AddCertFile(cfg.CAFile); err != nil {
			return nil, fmt.Errorf("store: load database ca: %w", err)
		}
		tc := poolCfg.ConnConfig.TLSConfig
		if tc == nil {
			tc = &tls.Config{
				ServerName: poolCfg.ConnConfig.Host,
				MinVersion: tls.VersionTLS12,
			}
		}
		tc.RootCAs = roots.Pool()
		poolCfg.ConnConfig.TLSConfig = tc
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	return &Store{
		pool:   pool,
		url:    cfg.URL,
		logger: cfg.Logger,
	}, nil
}

// Ping verifies store reachability. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
