package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// DefaultCommandTimeout bounds one MQTT-initiated command.
const DefaultCommandTimeout = 10 * time.Second

// Device is the part of nax.Client the bridge drives.
type Device interface {
	OnChange(path string, opts ...state.SubscribeOption) (*state.Subscription, error)
	OnConnectionChange(fn func(from, to session.State)) (remove func())
	ConnectionState() session.State
	LastError() error
	SendText(ctx context.Context, path, text string) (dispatch.Result, error)
}

// Broker is the publish/subscribe surface of an MQTT client.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
	SetOnConnect(fn func())
}

// Bridge mirrors one device onto MQTT and accepts commands from it.
type Bridge struct {
	dev     Device
	broker  Broker
	topics  Topics
	timeout time.Duration
	log     *zap.Logger

	connSignal chan struct{}
	commands   sync.WaitGroup

	mu       sync.Mutex
	ctx      context.Context
	running  bool
	stopping bool
}

// New binds dev to broker under topics.
func New(dev Device, broker Broker, topics Topics) *Bridge {
	return &Bridge{
		dev:        dev,
		broker:     broker,
		topics:     topics,
		timeout:    DefaultCommandTimeout,
		log:        logging.Named("bridge").With(zap.String("device", topics.Device)),
		connSignal: make(chan struct{}, 1),
	}
}

// SetCommandTimeout changes the per-command bound.
func (b *Bridge) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		b.timeout = d
	}
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics { return b.topics }

// Run publishes state until ctx ends, then marks the device offline.
// A Bridge runs once.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.ctx = ctx
	b.mu.Unlock()

	sub, err := b.dev.OnChange("", state.WithReplay())
	if err != nil {
		return err
	}
	defer sub.Close()

	removeListener := b.dev.OnConnectionChange(func(_, _ session.State) { b.signalConnection() })
	defer removeListener()
	b.broker.SetOnConnect(b.signalConnection)
	if err := b.broker.Subscribe(b.topics.SetWildcard(), b.handleCommand); err != nil {
		return err
	}
	b.publishConnection()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for av := range sub.All(ctx) {
			b.publishState(av)
		}
	}()

	b.log.Info("MQTT bridge running", zap.String("topic", b.topics.root()))
	for {
		select {
		case <-ctx.Done():
			<-pumpDone
			b.mu.Lock()
			b.stopping = true
			b.mu.Unlock()
			b.commands.Wait()
			b.publish(b.topics.Availability(), []byte(PayloadOffline), true)
			b.log.Info("MQTT bridge stopped")
			return nil
		case <-b.connSignal:
			b.publishConnection()
		}
	}
}

// signalConnection must not block: it runs on the session goroutine.
func (b *Bridge) signalConnection() {
	select {
	case b.connSignal <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishConnection() {
	s := b.dev.ConnectionState()
	if payload, err := json.Marshal(connectionMessage(s, b.dev.LastError(), time.Now())); err == nil {
		b.publish(b.topics.Connection(), payload, true)
	}
	b.publish(b.topics.Availability(), []byte(availability(s)), true)
}

func (b *Bridge) publishState(av state.AttributeValue) {
	payload, err := encodeState(av.Value)
	if err != nil {
		b.log.Warn("Cannot encode state", zap.String("path", av.Path.String()), zap.Error(err))
		return
	}
	b.publish(b.topics.State(av.Path), payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.broker.Publish(topic, payload, retained); err != nil {
		b.log.Debug("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// handleCommand runs on paho's goroutine, so the dispatch itself is
// handed off.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	path, ok := b.topics.ParseSet(topic)
	if !ok {
		return nil
	}
	text := decodeCommand(payload)

	b.mu.Lock()
	ctx := b.ctx
	if ctx == nil || b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.commands.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.commands.Done()
		cctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		res, err := b.dev.SendText(cctx, path, text)
		if err != nil {
			b.log.Info("MQTT command failed",
				zap.String("path", path),
				zap.String("value", text),
				zap.Error(err))
		}
		if out, merr := json.Marshal(resultMessage(path, res, err)); merr == nil {
			b.publish(b.topics.Result(), out, false)
		}
	}()
	return nil
}
