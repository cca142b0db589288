package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use "__",
// e.g. GATEWAY_SERVER__PORT=4566.
const EnvPrefix = "GATEWAY_"

type Config struct {
	Server             ServerConfig     `koanf:"server"`
	Log                LogConfig        `koanf:"log"`
	Tracing            TracingConfig    `koanf:"tracing"`
	Auth               AuthConfig       `koanf:"auth"`
	RateLimit          RateLimitConfig  `koanf:"rate_limit"`
	Storage            StorageConfig    `koanf:"storage"`
	Upstreams          []UpstreamConfig `koanf:"upstreams"`
	CORS               CORSConfig       `koanf:"cors"`
	Defaults           DefaultsConfig   `koanf:"defaults"`
	PerformanceLogging bool             `koanf:"performance_logging"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level      string `koanf:"level"`  // debug, info, warn, error
	Format     string `koanf:"format"` // json, text
	File       string `koanf:"file"`   // empty = stdout
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Environment string  `koanf:"environment"`
	SampleRatio float64 `koanf:"sample_ratio"` // 0..1 of root traces kept
}

type AuthConfig struct {
	Enabled   bool           `koanf:"enabled"`
	APIKeys   []APIKeyConfig `koanf:"api_keys"`
	JWTSecret string         `koanf:"jwt_secret"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Account     string `koanf:"account"`
	Description string `koanf:"description"`
}

type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
	Memory MemoryConfig `koanf:"memory"`
}

type MemoryConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// UpstreamConfig forwards every operation of Service to URL.
type UpstreamConfig struct {
	Service string        `koanf:"service"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DefaultsConfig struct {
	Account string `koanf:"account"`
	Region  string `koanf:"region"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":                4566,
	"server.request_timeout":     "30s",
	"log.level":                  "info",
	"log.format":                 "json",
	"log.max_size_mb":            100,
	"log.max_backups":            3,
	"log.max_age_days":           28,
	"tracing.service_name":       "cloud-emulator-gateway",
	"tracing.sample_ratio":       1.0,
	"rate_limit.burst":           50,
	"storage.type":               "memory",
	"storage.sqlite.path":        "./data/gateway.db",
	"storage.memory.max_entries": 10000,
	"defaults.account":           "000000000000",
	"defaults.region":            "us-east-1",
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	k := koanf.New(".")
	for key, v := range defaults {
		k.Set(key, v)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	return &cfg
}

// Load reads the YAML file at path (a missing file is fine), applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Auth.JWTSecret = substituteEnvVars(cfg.Auth.JWTSecret)
	for i := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i].KeyHash = substituteEnvVars(cfg.Auth.APIKeys[i].KeyHash)
	}
	for i := range cfg.Upstreams {
		cfg.Upstreams[i].URL = substituteEnvVars(cfg.Upstreams[i].URL)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
