// Package config defines the service configuration, loaded once at startup
// and immutable afterward. Values come from the environment (optionally via
// a .env file) and are validated before the process starts serving.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the top-level configuration. Sub-components receive only the
// subsets they need.
type Config struct {
	LogLevel string `envconfig:"SOLWIND_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server      ServerConfig
	DONKI       DONKIConfig
	SWPC        SWPCConfig
	Cache       CacheConfig
	Stream      StreamConfig
	Propagation PropagationConfig
	Alerts      AlertsConfig
	Auth        AuthConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `envconfig:"SOLWIND_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"SOLWIND_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SOLWIND_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"SOLWIND_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SOLWIND_SHUTDOWN_TIMEOUT" default:"15s"`
	TrustProxy      bool          `envconfig:"SOLWIND_TRUST_PROXY" default:"false"`
}

// DONKIConfig holds CME catalog ingestion settings.
type DONKIConfig struct {
	BaseURL         string        `envconfig:"SOLWIND_DONKI_URL" default:"https://api.nasa.gov/DONKI/CME" validate:"url"`
	APIKey          string        `envconfig:"SOLWIND_DONKI_API_KEY" default:"DEMO_KEY"`
	Window          time.Duration `envconfig:"SOLWIND_DONKI_WINDOW" default:"72h" validate:"min=1h"`
	RefreshInterval time.Duration `envconfig:"SOLWIND_DONKI_REFRESH" default:"15m" validate:"min=1m"`
	CacheDir        string        `envconfig:"SOLWIND_DONKI_CACHE_DIR" default:"./data"`
	CacheMaxFiles   int           `envconfig:"SOLWIND_DONKI_CACHE_MAX_FILES" default:"5" validate:"min=1"`
}

// SWPCConfig holds ambient conditions polling settings.
type SWPCConfig struct {
	Enabled      bool          `envconfig:"SOLWIND_SWPC_ENABLED" default:"true"`
	BaseURL      string        `envconfig:"SOLWIND_SWPC_URL" default:"https://services.swpc.noaa.gov" validate:"url"`
	PollInterval time.Duration `envconfig:"SOLWIND_SWPC_POLL" default:"5m" validate:"min=30s"`
}

// CacheConfig holds keyframe cache tuning.
type CacheConfig struct {
	Step        time.Duration `envconfig:"SOLWIND_CACHE_STEP" default:"5s" validate:"min=1s"`
	Horizon     time.Duration `envconfig:"SOLWIND_CACHE_HORIZON" default:"10m" validate:"min=30s"`
	GracePeriod time.Duration `envconfig:"SOLWIND_CACHE_GRACE" default:"30s"`
	Buffer      time.Duration `envconfig:"SOLWIND_CACHE_BUFFER" default:"60s"`
}

// StreamConfig holds SSE streaming limits.
type StreamConfig struct {
	MaxConcurrentPerIP int           `envconfig:"SOLWIND_STREAM_MAX_PER_IP" default:"10" validate:"min=1"`
	BandwidthLimit     int           `envconfig:"SOLWIND_STREAM_BANDWIDTH" default:"1048576"`
	KeepaliveInterval  time.Duration `envconfig:"SOLWIND_STREAM_KEEPALIVE" default:"30s" validate:"min=1s"`
}

// PropagationConfig holds worker pool sizing for keyframe generation.
type PropagationConfig struct {
	Workers int `envconfig:"SOLWIND_PROPAGATION_WORKERS" default:"0" validate:"min=0"` // 0 = NumCPU
}

// AlertsConfig holds alert evaluation settings.
type AlertsConfig struct {
	Interval time.Duration `envconfig:"SOLWIND_ALERTS_INTERVAL" default:"1m" validate:"min=10s"`
}

// AuthConfig holds API authentication settings. An empty token disables auth.
type AuthConfig struct {
	Token string `envconfig:"SOLWIND_API_TOKEN"`
}

// Load reads, defaults, and validates the configuration.
//
// The loading sequence is:
//  1. Enforce UTC to keep catalog timestamps and cache keys comparable.
//  2. Load a .env file via godotenv (non-fatal if absent; never overrides
//     variables already set in the environment).
//  3. Populate the struct from envconfig tags.
//  4. Validate with go-playground/validator and fail fast.
func Load() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SlogLevel maps the configured level string onto slog's leveling.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
