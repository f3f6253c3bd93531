package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Daemon.ProxyAddr != "127.0.0.1:8000" {
		t.Fatalf("proxy addr = %s", cfg.Daemon.ProxyAddr)
	}
	if cfg.Daemon.AdminAddr != "127.0.0.1:8002" {
		t.Fatalf("admin addr = %s", cfg.Daemon.AdminAddr)
	}
	if cfg.Engine.MaxInstances != 100 {
		t.Fatalf("max instances = %d, want 100", cfg.Engine.MaxInstances)
	}
	if cfg.Engine.FuelBudget != 100_000_000 {
		t.Fatalf("fuel budget = %d, want 100000000", cfg.Engine.FuelBudget)
	}
	if cfg.Storage.Backend != "fs" || cfg.Storage.FsRoot != "./module-store" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Deploy.MaxBodyBytes != 256<<20 {
		t.Fatalf("max body = %d, want 256 MiB", cfg.Deploy.MaxBodyBytes)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvm.json")
	data := `{"daemon": {"proxy_addr": "0.0.0.0:9000"}, "engine": {"fuel_budget": 5000}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.ProxyAddr != "0.0.0.0:9000" {
		t.Fatalf("proxy addr = %s", cfg.Daemon.ProxyAddr)
	}
	if cfg.Engine.FuelBudget != 5000 {
		t.Fatalf("fuel budget = %d, want 5000", cfg.Engine.FuelBudget)
	}
	// Untouched fields keep their defaults.
	if cfg.Daemon.AdminAddr != "127.0.0.1:8002" {
		t.Fatalf("admin addr = %s", cfg.Daemon.AdminAddr)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvm.yaml")
	data := "storage:\n  backend: redis\n  redis_addr: localhost:6379\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisAddr != "localhost:6379" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RVM_PROXY_ADDR", "127.0.0.1:18000")
	t.Setenv("RVM_STORAGE_BACKEND", "s3")
	t.Setenv("RVM_ENGINE_FUEL_BUDGET", "42")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Daemon.ProxyAddr != "127.0.0.1:18000" {
		t.Fatalf("proxy addr = %s", cfg.Daemon.ProxyAddr)
	}
	if cfg.Storage.Backend != "s3" {
		t.Fatalf("backend = %s", cfg.Storage.Backend)
	}
	if cfg.Engine.FuelBudget != 42 {
		t.Fatalf("fuel budget = %d, want 42", cfg.Engine.FuelBudget)
	}
}
