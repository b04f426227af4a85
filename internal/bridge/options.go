package bridge

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	maxPayloadSize           = 1 << 20
)

// buildClientOptions maps Config onto paho options: broker URL, auth,
// auto-reconnect, TLS and a retained "offline" will on the availability
// topic.
func buildClientOptions(cfg Config, clientID, willTopic string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Reconnect.InitialDelay > 0 {
		opts.SetConnectRetryInterval(cfg.Reconnect.InitialDelay)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(cfg.Reconnect.MaxDelay)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if willTopic != "" {
		opts.SetWill(willTopic, PayloadOffline, 1, true)
	}
	return opts
}
