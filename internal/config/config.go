package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"` // 0 disables the gRPC script stream
	Profile  string `yaml:"profile"`   // prod selects JSON logs
	LogLevel string `yaml:"log_level"`
	Preset   string `yaml:"preset"` // instant|openai|anthropic|gemini (pacing presets)

	// Auth
	APIKey     string `yaml:"api_key"`
	BypassAuth bool   `yaml:"bypass_auth"`

	// Pacing for steps without CHUNKSIZE / CHUNKLATENCY
	DefaultChunkSize      int `yaml:"default_chunk_size"`
	DefaultChunkLatencyMs int `yaml:"default_chunk_latency_ms"`

	// Pacing for scripted tool follow-up answers
	FollowUpChunkSize int `yaml:"followup_chunk_size"`
	FollowUpLatencyMs int `yaml:"followup_latency_ms"`

	// Correlation cache
	CacheBackend       string        `yaml:"cache_backend"` // memory|sqlite
	CacheDSN           string        `yaml:"cache_dsn"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CachePurgeSchedule string        `yaml:"cache_purge_schedule"`

	StrictParse bool `yaml:"strict_parse"` // log unrecognized prompt lines

	// Fault injection
	ErrorRate float64 `yaml:"error_rate"`
	ErrorMode string  `yaml:"error_mode"` // mixed|429|500
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a key.
func Defaults() Config {
	return Config{
		Port:                  5653,
		Profile:               "default",
		APIKey:                "cheesers1",
		DefaultChunkSize:      10,
		DefaultChunkLatencyMs: 0,
		FollowUpChunkSize:     10,
		FollowUpLatencyMs:     10,
		CacheBackend:          "memory",
		CacheTTL:              5 * time.Minute,
		CachePurgeSchedule:    "@every 1m",
		ErrorMode:             "mixed",
	}
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
func getEnvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
func getEnvStr(k string, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// LoadConfig reads the environment on top of Defaults, with CONFIG_FILE as an
// optional YAML overlay in between.
func LoadConfig() (Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load builds the configuration in layers: Defaults, then the YAML file at
// path (skipped when empty), then the preset, then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Preset = strings.ToLower(getEnvStr("PRESET", cfg.Preset))
	ApplyPresetOverrides(&cfg)

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.GRPCPort = getEnvInt("GRPC_PORT", cfg.GRPCPort)
	cfg.Profile = getEnvStr("PROFILE", cfg.Profile)
	cfg.LogLevel = getEnvStr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIKey = getEnvStr("API_KEY", cfg.APIKey)
	cfg.BypassAuth = getBool("BYPASS_AUTH", cfg.BypassAuth)
	cfg.DefaultChunkSize = getEnvInt("DEFAULT_CHUNK_SIZE", cfg.DefaultChunkSize)
	cfg.DefaultChunkLatencyMs = getEnvInt("DEFAULT_CHUNK_LATENCY_MS", cfg.DefaultChunkLatencyMs)
	cfg.FollowUpChunkSize = getEnvInt("FOLLOWUP_CHUNK_SIZE", cfg.FollowUpChunkSize)
	cfg.FollowUpLatencyMs = getEnvInt("FOLLOWUP_LATENCY_MS", cfg.FollowUpLatencyMs)
	cfg.CacheBackend = strings.ToLower(getEnvStr("CACHE_BACKEND", cfg.CacheBackend))
	cfg.CacheDSN = getEnvStr("CACHE_DSN", cfg.CacheDSN)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.CachePurgeSchedule = getEnvStr("CACHE_PURGE_SCHEDULE", cfg.CachePurgeSchedule)
	cfg.StrictParse = getBool("STRICT_PARSE", cfg.StrictParse)
	cfg.ErrorRate = getEnvFloat("ERROR_RATE", cfg.ErrorRate)
	cfg.ErrorMode = strings.ToLower(getEnvStr("ERROR_MODE", cfg.ErrorMode))

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("grpc_port %d out of range", c.GRPCPort))
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.Port {
		err = multierr.Append(err, fmt.Errorf("grpc_port must differ from port %d", c.Port))
	}
	if c.DefaultChunkSize < 0 || c.FollowUpChunkSize < 0 {
		err = multierr.Append(err, fmt.Errorf("chunk sizes must not be negative"))
	}
	if c.DefaultChunkLatencyMs < 0 || c.FollowUpLatencyMs < 0 {
		err = multierr.Append(err, fmt.Errorf("latencies must not be negative"))
	}
	switch c.CacheBackend {
	case "memory":
	case "sqlite":
		if c.CacheDSN == "" {
			err = multierr.Append(err, fmt.Errorf("cache_dsn is required for the sqlite backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown cache_backend %q", c.CacheBackend))
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		err = multierr.Append(err, fmt.Errorf("error_rate %v must be within [0, 1]", c.ErrorRate))
	}
	switch c.ErrorMode {
	case "mixed", "429", "500":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown error_mode %q", c.ErrorMode))
	}
	return err
}

// DefaultChunkLatency is DefaultChunkLatencyMs as a duration.
func (c Config) DefaultChunkLatency() time.Duration {
	return time.Duration(c.DefaultChunkLatencyMs) * time.Millisecond
}

// FollowUpLatency is FollowUpLatencyMs as a duration.
func (c Config) FollowUpLatency() time.Duration {
	return time.Duration(c.FollowUpLatencyMs) * time.Millisecond
}
