package shellws

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the session websocket. Origin is required by default and
// only localhost origins are allowed.
type Config struct {
	OriginRequired   bool          `env:"LEXION_WS_ORIGIN_REQUIRED"     envDefault:"true"`
	AllowedOrigins   []string      `env:"LEXION_WS_ALLOWED_ORIGINS"     envDefault:"http://localhost,http://127.0.0.1" envSeparator:","`
	DevInsecure      bool          `env:"LEXION_WS_DEV_INSECURE"        envDefault:"false"`
	WriteTimeout     time.Duration `env:"LEXION_WS_WRITE_TIMEOUT"       envDefault:"5s"`
	ReadIdleTimeout  time.Duration `env:"LEXION_WS_READ_IDLE_TIMEOUT"   envDefault:"2m"`
	HeartbeatEvery   time.Duration `env:"LEXION_WS_HEARTBEAT_INTERVAL"  envDefault:"25s"`
	HeartbeatTimeout time.Duration `env:"LEXION_WS_HEARTBEAT_TIMEOUT"   envDefault:"5s"`
	RateEvents       int           `env:"LEXION_WS_RATE_EVENTS"         envDefault:"30"`
	RateWindow       time.Duration `env:"LEXION_WS_RATE_WINDOW"         envDefault:"10s"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     5 * time.Second,
		ReadIdleTimeout:  2 * time.Minute,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadConfigFromEnv parses Config from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse ws env: %w", err)
	}
	if cfg.WriteTimeout <= 0 || cfg.ReadIdleTimeout <= 0 || cfg.HeartbeatEvery <= 0 || cfg.HeartbeatTimeout <= 0 {
		return Config{}, fmt.Errorf("ws timeouts must be > 0")
	}
	return cfg, nil
}
