package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Server struct {
		Addr string `koanf:"addr"`
	} `koanf:"server"`
	Database struct {
		URL            string        `koanf:"url"`
		AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	} `koanf:"database"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaultTestConfig() *testConfig {
	cfg := &testConfig{}
	cfg.Server.Addr = ":3020"
	cfg.Log.Level = "info"
	return cfg
}

func TestLoad_DefaultsSurvive(t *testing.T) {
	cfg := defaultTestConfig()

	if err := NewLoader().Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":3020" {
		t.Errorf("Server.Addr = %q, want default preserved", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want default preserved", cfg.Log.Level)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  addr: \":9090\"\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaultTestConfig()
	if err := NewLoader(WithConfigFile(path)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WORLDSYNC_LOG_LEVEL", "error")

	cfg := defaultTestConfig()
	if err := NewLoader(WithConfigFile(path)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error from environment", cfg.Log.Level)
	}
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("WS_LOG_LEVEL", "warn")

	cfg := defaultTestConfig()
	if err := NewLoader(WithEnvPrefix("WS_")).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := defaultTestConfig()
	err := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))).Load(cfg)
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadMap(t *testing.T) {
	l := NewLoader()
	if err := l.LoadMap(map[string]any{"database.url": "postgres://localhost/world"}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}

	cfg := defaultTestConfig()
	if err := l.Unmarshal(cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/world" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  acquire_timeout: 5s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaultTestConfig()
	if err := NewLoader(WithConfigFile(path)).Load(cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.AcquireTimeout != 5*time.Second {
		t.Errorf("AcquireTimeout = %v, want 5s", cfg.Database.AcquireTimeout)
	}
}
