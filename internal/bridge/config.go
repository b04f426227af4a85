package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTopicPrefix is the root of every topic the bridge uses.
const DefaultTopicPrefix = "nax"

// Config holds the broker connection and topic settings.
type Config struct {
	Enabled     bool            `yaml:"enabled"`
	Broker      BrokerConfig    `yaml:"broker"`
	Auth        AuthConfig      `yaml:"auth"`
	QoS         int             `yaml:"qos"`
	TopicPrefix string          `yaml:"topic_prefix"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
}

// BrokerConfig locates the broker.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// AuthConfig holds broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig bounds paho's automatic reconnect.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns a disabled bridge pointed at a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:      BrokerConfig{Host: "127.0.0.1", Port: 1883},
		QoS:         1,
		TopicPrefix: DefaultTopicPrefix,
		Reconnect:   ReconnectConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// Validate checks the settings a connection needs.
func (c Config) Validate() error {
	var errs []error
	if c.Broker.Host == "" {
		errs = append(errs, errors.New("mqtt broker host is required"))
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt broker port %d out of range", c.Broker.Port))
	}
	if c.QoS < 0 || c.QoS > maxQoS {
		errs = append(errs, ErrInvalidQoS)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		errs = append(errs, fmt.Errorf("topic prefix %q contains a wildcard", c.TopicPrefix))
	}
	return errors.Join(errs...)
}

// clientID returns the configured client ID or a random one.
func (c Config) clientID() string {
	if c.Broker.ClientID != "" {
		return c.Broker.ClientID
	}
	return "nax-bridge-" + uuid.NewString()[:8]
}
