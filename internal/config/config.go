// Package config loads rvm daemon configuration from defaults, an optional
// config file (JSON or YAML), and RVM_* environment overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds listener and logging settings.
type DaemonConfig struct {
	ProxyAddr string `json:"proxy_addr" yaml:"proxy_addr"` // invocation listener (default 127.0.0.1:8000)
	AdminAddr string `json:"admin_addr" yaml:"admin_addr"` // deploy/admin listener (default 127.0.0.1:8002)
	LogLevel  string `json:"log_level" yaml:"log_level"`   // debug, info, warn, error
	LogFormat string `json:"log_format" yaml:"log_format"` // text, json
}

// EngineConfig holds process-wide sandbox engine settings.
type EngineConfig struct {
	CacheDir       string `json:"cache_dir" yaml:"cache_dir"`               // compiled-module cache directory
	MaxInstances   int    `json:"max_instances" yaml:"max_instances"`       // hard cap on concurrent instances (default 100)
	MemoryLimitMiB int    `json:"memory_limit_mib" yaml:"memory_limit_mib"` // per-instance linear memory ceiling (default 256)
	TableElements  int    `json:"table_elements" yaml:"table_elements"`     // per-instance table element ceiling (default 10000)
	FuelBudget     uint64 `json:"fuel_budget" yaml:"fuel_budget"`           // fuel units per instance (default 100000000)
}

// StorageConfig selects and configures the module object store.
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"` // fs, s3, redis, postgres

	FsRoot string `json:"fs_root" yaml:"fs_root"` // fs: root directory (default ./module-store)

	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region    string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint" yaml:"s3_endpoint"` // optional, for MinIO and friends
	S3AccessKey string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Prefix    string `json:"s3_prefix" yaml:"s3_prefix"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`

	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`           // default: false
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // rvm
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`     // default: true
	Namespace string `json:"namespace" yaml:"namespace"` // rvm
}

// DeployConfig holds admission settings.
type DeployConfig struct {
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"` // deploy body cap (default 256 MiB)
}

// Config is the root daemon configuration.
type Config struct {
	Daemon  DaemonConfig  `json:"daemon" yaml:"daemon"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Deploy  DeployConfig  `json:"deploy" yaml:"deploy"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ProxyAddr: "127.0.0.1:8000",
			AdminAddr: "127.0.0.1:8002",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Engine: EngineConfig{
			CacheDir:       defaultCacheDir(),
			MaxInstances:   100,
			MemoryLimitMiB: 256,
			TableElements:  10_000,
			FuelBudget:     100_000_000,
		},
		Storage: StorageConfig{
			Backend: "fs",
			FsRoot:  "./module-store",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "rvm",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "rvm",
		},
		Deploy: DeployConfig{
			MaxBodyBytes: 256 << 20,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "rvm", "compile-cache")
	}
	return filepath.Join(os.TempDir(), "rvm-compile-cache")
}

// LoadFromFile parses a config file. The extension picks the codec:
// .yaml/.yml use YAML, everything else JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadFromEnv applies RVM_* environment overrides on top of cfg.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.Daemon.ProxyAddr, "RVM_PROXY_ADDR")
	setString(&cfg.Daemon.AdminAddr, "RVM_ADMIN_ADDR")
	setString(&cfg.Daemon.LogLevel, "RVM_LOG_LEVEL")
	setString(&cfg.Daemon.LogFormat, "RVM_LOG_FORMAT")

	setString(&cfg.Engine.CacheDir, "RVM_ENGINE_CACHE_DIR")
	setInt(&cfg.Engine.MaxInstances, "RVM_ENGINE_MAX_INSTANCES")
	setUint64(&cfg.Engine.FuelBudget, "RVM_ENGINE_FUEL_BUDGET")

	setString(&cfg.Storage.Backend, "RVM_STORAGE_BACKEND")
	setString(&cfg.Storage.FsRoot, "RVM_STORAGE_FS_ROOT")
	setString(&cfg.Storage.S3Bucket, "RVM_STORAGE_S3_BUCKET")
	setString(&cfg.Storage.S3Region, "RVM_STORAGE_S3_REGION")
	setString(&cfg.Storage.S3Endpoint, "RVM_STORAGE_S3_ENDPOINT")
	setString(&cfg.Storage.S3AccessKey, "RVM_STORAGE_S3_ACCESS_KEY")
	setString(&cfg.Storage.S3SecretKey, "RVM_STORAGE_S3_SECRET_KEY")
	setString(&cfg.Storage.RedisAddr, "RVM_STORAGE_REDIS_ADDR")
	setString(&cfg.Storage.RedisPassword, "RVM_STORAGE_REDIS_PASSWORD")
	setInt(&cfg.Storage.RedisDB, "RVM_STORAGE_REDIS_DB")
	setString(&cfg.Storage.PostgresDSN, "RVM_STORAGE_POSTGRES_DSN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
