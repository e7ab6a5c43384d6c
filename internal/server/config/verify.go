// Package config defines the server configuration structure.
package config

import (
	"errors"
	"os"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyDatabase(&cfg.Database); err != nil {
		return err
	}
	if err := verifySession(&cfg.Session); err != nil {
		return err
	}
	if err := verifyReplication(&cfg.Replication); err != nil {
		return err
	}
	if err := verifyBridge(&cfg.Bridge); err != nil {
		return err
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}

	// TLS cert and key come as a pair, and both files must exist.
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	if cfg.HTTP.TLSCertFile != "" {
		if _, err := os.Stat(cfg.HTTP.TLSCertFile); err != nil {
			return errors.New("server.http.tls_cert_file: " + err.Error())
		}
		if _, err := os.Stat(cfg.HTTP.TLSKeyFile); err != nil {
			return errors.New("server.http.tls_key_file: " + err.Error())
		}
	}
	return nil
}

func verifyDatabase(cfg *DatabaseSection) error {
	if cfg.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.MaxConns < 1 {
		return errors.New("database.max_conns must be at least 1")
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return errors.New("database.min_conns must be between 0 and max_conns")
	}
	return nil
}

func verifySession(cfg *SessionSection) error {
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("session.heartbeat_interval must be positive")
	}
	if cfg.HeartbeatTimeout < cfg.HeartbeatInterval {
		return errors.New("session.heartbeat_timeout must be at least heartbeat_interval")
	}
	if cfg.WSCheckInterval <= 0 {
		return errors.New("session.ws_check_interval must be positive")
	}
	if cfg.RevalidateParallel < 1 {
		return errors.New("session.revalidate_parallel must be at least 1")
	}
	return nil
}

func verifyReplication(cfg *ReplicationSection) error {
	if cfg.SendQueueCapacity < 1 {
		return errors.New("replication.send_queue_capacity must be at least 1")
	}
	if cfg.MaxConcurrentQueries < 1 {
		return errors.New("replication.max_concurrent_queries must be at least 1")
	}
	if cfg.QueryTimeout <= 0 {
		return errors.New("replication.query_timeout must be positive")
	}
	if cfg.MaxResultRows < 1 {
		return errors.New("replication.max_result_rows must be at least 1")
	}
	return nil
}

func verifyBridge(cfg *BridgeSection) error {
	if cfg.ReconnectBase <= 0 {
		return errors.New("bridge.reconnect_base must be positive")
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return errors.New("bridge.reconnect_cap must be at least reconnect_base")
	}
	return nil
}
