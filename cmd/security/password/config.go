package password

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Policy controls password validation boundaries. Lengths count runes.
type Policy struct {
	MinLength int `env:"LEXION_PASSWORD_MIN_LEN" envDefault:"6"`
	MaxLength int `env:"LEXION_PASSWORD_MAX_LEN" envDefault:"256"`
	// RejectVeryWeak turns on the trivial-pattern check.
	RejectVeryWeak bool `env:"LEXION_PASSWORD_REJECT_VERY_WEAK" envDefault:"false"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Policy Policy
}

// Bounds accepted for the configured lengths.
const (
	minLengthCeiling = 1024
	maxLengthCeiling = 4096
)

// DefaultConfig mirrors the API's own minimum (6 characters).
func DefaultConfig() Config {
	return Config{Policy: Policy{MinLength: 6, MaxLength: 256}}
}

// FromEnv loads config from LEXION_PASSWORD_* variables and checks it.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse password env: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check rejects lengths outside their bounds and an inverted range.
func (c Config) Check() error {
	p := c.Policy
	if p.MinLength < 1 || p.MinLength > minLengthCeiling {
		return fmt.Errorf("LEXION_PASSWORD_MIN_LEN: out of range [1..%d]", minLengthCeiling)
	}
	if p.MaxLength < 1 || p.MaxLength > maxLengthCeiling {
		return fmt.Errorf("LEXION_PASSWORD_MAX_LEN: out of range [1..%d]", maxLengthCeiling)
	}
	if p.MinLength > p.MaxLength {
		return fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", p.MinLength, p.MaxLength)
	}
	return nil
}
