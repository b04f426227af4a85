package nax

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

// DefaultUsername is the factory login of NAX devices.
const DefaultUsername = "admin"

// Config describes one device connection.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port,omitempty"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password,omitempty"`
	VerifyTLS bool   `yaml:"verify_tls"`
	CAFile    string `yaml:"ca_file,omitempty"` // PEM bundle trusted when VerifyTLS is set

	Reconnect         session.BackoffConfig `yaml:"reconnect"`
	CommandTimeout    time.Duration         `yaml:"command_timeout"`
	HeartbeatInterval time.Duration         `yaml:"heartbeat_interval"`
	MissedHeartbeats  int                   `yaml:"missed_heartbeats"`
	SubscribeTimeout  time.Duration         `yaml:"subscribe_timeout"`
	BusyPolicy        string                `yaml:"busy_policy"`
	Subscriptions     []string              `yaml:"subscriptions,omitempty"`
	Volume            protocol.Range        `yaml:"volume"`
	DropUnknownPaths  bool                  `yaml:"drop_unknown_paths"`
}

// DefaultConfig returns a Config with every tunable at its default. Host
// and password still need to be set.
func DefaultConfig() Config {
	return Config{
		Port:              transport.DefaultPort,
		Username:          DefaultUsername,
		Reconnect:         session.DefaultBackoffConfig(),
		CommandTimeout:    dispatch.DefaultTimeout,
		HeartbeatInterval: transport.DefaultHeartbeatInterval,
		MissedHeartbeats:  session.DefaultMissedHeartbeats,
		SubscribeTimeout:  session.DefaultSubscribeTimeout,
		BusyPolicy:        dispatch.FailFast.String(),
		Subscriptions:     []string{protocol.SubscribeAll},
		Volume:            protocol.Range{Min: 0, Max: 100},
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Volume.Min > c.Volume.Max {
		errs = append(errs, fmt.Errorf("volume min %d exceeds max %d", c.Volume.Min, c.Volume.Max))
	}
	if _, err := dispatch.ParseBusyPolicy(c.BusyPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.subscriptionPaths(); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"command_timeout":         c.CommandTimeout,
		"subscribe_timeout":       c.SubscribeTimeout,
		"reconnect.initial_delay": c.Reconnect.InitialDelay,
		"reconnect.max_delay":     c.Reconnect.MaxDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.MissedHeartbeats < 0 {
		errs = append(errs, errors.New("missed_heartbeats must not be negative"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter %.2f must be within [0, 1]", c.Reconnect.Jitter))
	}
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier %.2f must be at least 1", c.Reconnect.Multiplier))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.VerifyTLS && c.CAFile != "" {
		if _, err := os.Stat(c.CAFile); err != nil {
			errs = append(errs, fmt.Errorf("ca_file: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) subscriptionPaths() ([]state.DevicePath, error) {
	if len(c.Subscriptions) == 0 {
		return []state.DevicePath{protocol.DeviceRoot}, nil
	}
	out := make([]state.DevicePath, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		p, err := protocol.ResolvePath(s)
		if err != nil {
			return nil, fmt.Errorf("subscription %q: %w", s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (c Config) rootCAs() (*x509.CertPool, error) {
	if !c.VerifyTLS || c.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
	}
	return pool, nil
}

func (c Config) volumeRange() protocol.Range {
	if c.Volume == (protocol.Range{}) {
		return protocol.Range{Min: 0, Max: 100}
	}
	return c.Volume
}
