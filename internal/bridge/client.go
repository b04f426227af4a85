package bridge

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
)

// MessageHandler receives one MQTT message. Returned errors are logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps paho with timeouts, input checks and subscriptions that
// survive reconnects. All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	qos    byte

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	callbackMu sync.RWMutex
	onConnect  func()
}

// Connect dials the broker and waits for the first CONNACK. willTopic,
// when set, receives a retained "offline" if the connection dies.
func Connect(cfg Config, willTopic string) (*Client, error) {
	clientID := cfg.clientID()
	opts := buildClientOptions(cfg, clientID, willTopic)

	c := &Client{
		qos:           byte(cfg.QoS),
		subscriptions: make(map[string]subscription),
	}
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		logging.Debug("MQTT reconnecting", zap.String("client_id", clientID))
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark connected now so
	// callers can publish straight away.
	c.setConnected(true)
	logging.Info("MQTT connected",
		zap.String("broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)),
		zap.String("client_id", clientID))
	return c, nil
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.callbackMu.RLock()
	fn := c.onConnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	logging.Warn("MQTT connection lost", zap.Error(err))
}

// SetOnConnect registers fn to run after every (re)connect, once
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.callbackMu.Lock()
	c.onConnect = fn
	c.callbackMu.Unlock()
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Publish sends payload to topic and waits for the broker's ack.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic, which may contain wildcards.
// The subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: c.qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	} else if terr := token.Error(); terr != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, terr)
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
	}
	return err
}

// Close disconnects after letting in-flight messages drain.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// wrapHandler adds panic recovery and error logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("MQTT handler panic recovered",
					zap.String("topic", msg.Topic()),
					zap.Any("panic", r))
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			logging.Warn("MQTT handler returned error",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}
}
