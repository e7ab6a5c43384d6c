// Package main provides the entry point for worldsync-server.
//
// worldsync-server is the realtime state replication service for
// Vircadia worlds: it validates sessions, ticks every sync group on
// its configured interval, and fans entity changes out to websocket
// subscribers. All world state lives in Postgres; this process holds
// only connection and subscription state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/vircadia/worldsync/internal/bridge"
	"github.com/vircadia/worldsync/internal/core/service"
	"github.com/vircadia/worldsync/internal/infra/buildinfo"
	"github.com/vircadia/worldsync/internal/infra/confloader"
	"github.com/vircadia/worldsync/internal/infra/shutdown"
	"github.com/vircadia/worldsync/internal/infra/tlsroots"
	"github.com/vircadia/worldsync/internal/server/config"
	"github.com/vircadia/worldsync/internal/server/httpserver"
	"github.com/vircadia/worldsync/internal/server/wsserver"
	"github.com/vircadia/worldsync/internal/store"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
	"github.com/vircadia/worldsync/internal/tick"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("worldsync-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting worldsync-server",
		"version", buildinfo.Get().Version,
		"config", *configFile)

	metrics := metric.NewRegistry()

	// Background loops share one context, cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, store.Config{
		URL:            cfg.Database.URL,
		MinConns:       cfg.Database.MinConns,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		CAFile:         cfg.Database.CAFile,
		Logger:         slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	sessions := service.NewSessionManager(st, service.SessionManagerConfig{
		JWTSecret:          cfg.Auth.JWTSecret,
		HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		RevalidateParallel: cfg.Session.RevalidateParallel,
		Logger:             log,
		Metrics:            metrics,
	})
	dispatcher := service.NewQueryDispatcher(st, service.QueryDispatcherConfig{
		MaxConcurrent: cfg.Replication.MaxConcurrentQueries,
		QueryTimeout:  cfg.Replication.QueryTimeout,
		MaxResultRows: cfg.Replication.MaxResultRows,
		Logger:        log,
		Metrics:       metrics,
	})
	subs := service.NewSubscriptionManager(st, sessions, service.SubscriptionManagerConfig{
		Encoder: wsserver.EncodeChangeSet,
		Logger:  log,
		Metrics: metrics,
	})

	engine := tick.New(st, subs, tick.Config{
		Logger:  log,
		Metrics: metrics,
	})
	if err := engine.Start(ctx); err != nil {
		st.Close()
		return fmt.Errorf("start tick engine: %w", err)
	}

	ws := wsserver.New(sessions, dispatcher, subs, nil, wsserver.Config{
		Session:     cfg.Session,
		Replication: cfg.Replication,
		Logger:      log,
		Metrics:     metrics,
	})

	notifier := bridge.New(
		func(ctx context.Context) (bridge.Listener, error) { return st.NewListener(ctx) },
		ws.DeliverNotification,
		bridge.Config{
			ReconnectBase: cfg.Bridge.ReconnectBase,
			ReconnectCap:  cfg.Bridge.ReconnectCap,
			Logger:        log,
			Metrics:       metrics,
		},
	)
	ws.SetNotifyRegistry(notifier)
	go notifier.Run(ctx)

	go sessions.RunSweep(ctx, cfg.Session.WSCheckInterval)
	go service.RunSessionCleanup(ctx, st, cfg.Session.CleanupInterval, cfg.Session.InactiveTimeout, log)

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Sessions:        sessions,
		Health:          st,
		WS:              ws,
		Metrics:         metrics.Handler(),
		Logger:          log,
		GlobalRateLimit: 100,
		EnableAudit:     true,
	})
	httpServer := httpserver.New(cfg.Server.HTTP.Addr, router)

	if *configFile != "" {
		if err := watchLogLevel(*configFile, log); err != nil {
			log.Warn("config watcher unavailable", "error", err)
		}
	}

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	// Hooks run in reverse registration order: connections first, then
	// the HTTP listener, then the tick engine, the store last.
	shutdownHandler.OnShutdown(func(context.Context) error {
		log.Info("closing store")
		cancel()
		st.Close()
		return nil
	})
	shutdownHandler.OnShutdown(func(context.Context) error {
		log.Info("stopping tick engine")
		engine.Stop()
		return nil
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing websocket connections",
			"active", ws.ActiveConnections())
		return ws.Shutdown(ctx)
	})

	serveTLS := cfg.Server.HTTP.TLSCertFile != "" && cfg.Server.HTTP.TLSKeyFile != ""

	var certWatcher *tlsroots.Watcher
	if serveTLS {
		certWatcher, err = tlsroots.NewWatcher(
			cfg.Server.HTTP.TLSCertFile,
			cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("load server certificate: %w", err)
		}
		certWatcher.StartAsync()
		shutdownHandler.OnShutdown(func(context.Context) error {
			certWatcher.Stop()
			return nil
		})
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", serveTLS)

		var err error
		if serveTLS {
			err = httpServer.ListenAndServeTLSReload(certWatcher.GetCertificate)
		} else {
			err = httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// initLogger initializes the structured logger and installs it as the
// process default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}

	logger.SetDefault(log)
	return log, nil
}

// watchLogLevel re-reads the config file on change and applies the log
// level. Only the level is applied live; everything else needs a
// restart.
func watchLogLevel(configFile string, log logger.Logger) error {
	watcher, err := confloader.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Watch(configFile); err != nil {
		return err
	}

	watcher.OnChange(func(path string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload skipped", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level applied", "level", cfg.Log.Level)
	})
	watcher.StartAsync()
	return nil
}
