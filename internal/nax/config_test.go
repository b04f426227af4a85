package nax

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jetsoncontrols/ha-nax/internal/protocol"
)

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.Host = "nax.local"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with host", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port 70000"},
		{"no username", func(c *Config) { c.Username = "" }, "username is required"},
		{"inverted volume", func(c *Config) { c.Volume = protocol.Range{Min: 50, Max: 10} }, "volume min"},
		{"bad policy", func(c *Config) { c.BusyPolicy = "queue" }, "unknown busy policy"},
		{"bad subscription", func(c *Config) { c.Subscriptions = []string{"speaker/1"} }, "subscription"},
		{"negative timeout", func(c *Config) { c.CommandTimeout = -time.Second }, "command_timeout"},
		{"jitter", func(c *Config) { c.Reconnect.Jitter = 2 }, "jitter"},
		{"missing ca file", func(c *Config) { c.VerifyTLS = true; c.CAFile = "/nonexistent/ca.pem" }, "ca_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_YAML(t *testing.T) {
	src := `
host: 10.0.0.20
username: integrator
verify_tls: false
command_timeout: 3s
heartbeat_interval: 2s
busy_policy: supersede
reconnect:
  initial_delay: 500ms
  max_delay: 1m
  max_attempts: 5
volume:
  min: 0
  max: 80
subscriptions:
  - /Device/ZoneOutputs
  - zone/1
`
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(src), &cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.CommandTimeout != 3*time.Second || cfg.Reconnect.MaxDelay != time.Minute || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("durations not decoded: %+v", cfg)
	}
	if cfg.Reconnect.Multiplier != 2 {
		t.Errorf("unset multiplier should keep default, got %v", cfg.Reconnect.Multiplier)
	}
	if cfg.Volume.Max != 80 {
		t.Errorf("volume max = %d", cfg.Volume.Max)
	}
	paths, err := cfg.subscriptionPaths()
	if err != nil || len(paths) != 2 || paths[1] != "/Device/ZoneOutputs/Zones/Zone01" {
		t.Errorf("subscriptionPaths() = %v, %v", paths, err)
	}
}
