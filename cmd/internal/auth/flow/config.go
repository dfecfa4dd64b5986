package flow

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config tunes the acquisition flows. The facial settle delay is fixed and
// intentionally absent.
type Config struct {
	QRFrameInterval     time.Duration `env:"LEXION_QR_FRAME_INTERVAL"      envDefault:"200ms"`
	QRRetryDelay        time.Duration `env:"LEXION_QR_RETRY_DELAY"         envDefault:"5s"`
	FacialAbortOnCancel bool          `env:"LEXION_FACIAL_ABORT_ON_CANCEL" envDefault:"false"`
	CameraWidth         int           `env:"LEXION_CAMERA_WIDTH"           envDefault:"640"`
	CameraHeight        int           `env:"LEXION_CAMERA_HEIGHT"          envDefault:"480"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		QRFrameInterval: 200 * time.Millisecond,
		QRRetryDelay:    5 * time.Second,
		CameraWidth:     640,
		CameraHeight:    480,
	}
}

// LoadConfigFromEnv parses Config from the environment and validates it.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse flow env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive durations and sizes.
func (c Config) Validate() error {
	if c.QRFrameInterval <= 0 {
		return fmt.Errorf("LEXION_QR_FRAME_INTERVAL must be > 0")
	}
	if c.QRRetryDelay <= 0 {
		return fmt.Errorf("LEXION_QR_RETRY_DELAY must be > 0")
	}
	if c.CameraWidth <= 0 || c.CameraHeight <= 0 {
		return fmt.Errorf("camera size must be > 0")
	}
	return nil
}
