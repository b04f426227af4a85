package api

import (
	"errors"
	"time"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// PingInterval is how often event stream clients are pinged.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultConfig listens on :8080 with conservative timeouts.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the listener settings.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("api listen address is required")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.PingInterval < 0 {
		return errors.New("api timeouts must not be negative")
	}
	return nil
}
