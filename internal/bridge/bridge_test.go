package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker stands in for a broker: it records publishes and delivers
// injected messages to handlers subscribed with a trailing "#".
type fakeBroker struct {
	mu        sync.Mutex
	published []message
	retained  map[string]string
	handlers  map[string]MessageHandler
	onConnect func()
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: map[string]string{}, handlers: map[string]MessageHandler{}}
}

func (f *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message{topic, string(payload), retained})
	if retained {
		f.retained[topic] = string(payload)
	}
	return nil
}

func (f *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) SetOnConnect(fn func()) {
	f.mu.Lock()
	f.onConnect = fn
	f.mu.Unlock()
}

func (f *fakeBroker) deliver(topic, payload string) {
	f.mu.Lock()
	var h MessageHandler
	for pattern, fn := range f.handlers {
		if strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#")) {
			h = fn
		}
	}
	f.mu.Unlock()
	if h != nil {
		_ = h(topic, []byte(payload))
	}
}

func (f *fakeBroker) value(topic string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained[topic]
}

func (f *fakeBroker) results() []ResultMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ResultMessage
	for _, m := range f.published {
		if strings.HasSuffix(m.topic, "/result") {
			var r ResultMessage
			if json.Unmarshal([]byte(m.payload), &r) == nil {
				out = append(out, r)
			}
		}
	}
	return out
}

func (f *fakeBroker) last() message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func connectClient(t *testing.T) (*simulator.Device, *nax.Client) {
	t.Helper()
	dev := simulator.NewDevice(simulator.Config{Username: "admin", Password: "secret", Zones: 2, Inputs: 2})
	srv := httptest.NewTLSServer(dev)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := nax.DefaultConfig()
	cfg.Host, cfg.Port, cfg.Password = host, port, "secret"
	cfg.CommandTimeout = 2 * time.Second
	cfg.Reconnect.InitialDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond

	client, err := nax.New(cfg)
	require.NoError(t, err)
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	require.NoError(t, client.Connect(cctx))
	t.Cleanup(client.Disconnect)
	return dev, client
}

func startBridge(t *testing.T) (*simulator.Device, *fakeBroker, Topics, context.CancelFunc, <-chan error) {
	t.Helper()
	dev, client := connectClient(t)

	broker := newFakeBroker()
	topics := NewTopics("nax", "lab")
	b := New(client, broker, topics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(cancel)
	return dev, broker, topics, cancel, done
}

func TestBridge_PublishesRetainedState(t *testing.T) {
	_, broker, topics, _, _ := startBridge(t)

	volTopic := "nax/lab/state/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume"
	require.Eventually(t, func() bool { return broker.value(volTopic) == "40" }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return broker.value(topics.Availability()) == PayloadOnline },
		2*time.Second, 10*time.Millisecond)

	var conn ConnectionMessage
	require.NoError(t, json.Unmarshal([]byte(broker.value(topics.Connection())), &conn))
	assert.Equal(t, "connected", conn.State)
}

func TestBridge_CommandRoundTrip(t *testing.T) {
	_, broker, topics, _, _ := startBridge(t)
	volTopic := "nax/lab/state/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume"
	require.Eventually(t, func() bool { return broker.value(volTopic) == "40" }, 2*time.Second, 10*time.Millisecond)

	broker.deliver(topics.Set("zone/1/volume"), "55")

	require.Eventually(t, func() bool { return len(broker.results()) == 1 }, 3*time.Second, 10*time.Millisecond)
	res := broker.results()[0]
	assert.True(t, res.OK, res.Error)
	assert.Equal(t, "/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume", res.Path)
	require.Eventually(t, func() bool { return broker.value(volTopic) == "55" }, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_InvalidCommandReportsError(t *testing.T) {
	dev, broker, topics, _, _ := startBridge(t)
	sent := len(dev.Received())

	broker.deliver(topics.Set("zone/1/volume"), `{"value": 150}`)
	broker.deliver(topics.Set("zone/1/mute"), "maybe")

	require.Eventually(t, func() bool { return len(broker.results()) == 2 }, 3*time.Second, 10*time.Millisecond)
	for _, r := range broker.results() {
		assert.False(t, r.OK)
		assert.Equal(t, "Invalid Command", r.Kind)
	}
	assert.Len(t, dev.Received(), sent, "invalid commands must not reach the device")
}

func TestBridge_AvailabilityFollowsSession(t *testing.T) {
	dev, broker, topics, _, _ := startBridge(t)
	require.Eventually(t, func() bool { return broker.value(topics.Availability()) == PayloadOnline },
		2*time.Second, 10*time.Millisecond)

	dev.SetRefuseLogin(true)
	dev.DropConnections()
	require.Eventually(t, func() bool { return broker.value(topics.Availability()) == PayloadOffline },
		2*time.Second, 10*time.Millisecond)
}

func TestBridge_StopPublishesOffline(t *testing.T) {
	_, broker, topics, cancel, done := startBridge(t)
	require.Eventually(t, func() bool { return broker.value(topics.Availability()) == PayloadOnline },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	last := broker.last()
	assert.Equal(t, topics.Availability(), last.topic)
	assert.Equal(t, PayloadOffline, last.payload)
	assert.True(t, last.retained)

	// Commands after shutdown are ignored.
	n := len(broker.results())
	broker.deliver(topics.Set("zone/1/volume"), "10")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, broker.results(), n)
}

// listenerCountingDevice tracks how many connection listeners are live.
type listenerCountingDevice struct {
	*nax.Client
	active atomic.Int32
}

func (d *listenerCountingDevice) OnConnectionChange(fn func(from, to session.State)) func() {
	remove := d.Client.OnConnectionChange(fn)
	d.active.Add(1)
	return func() {
		d.active.Add(-1)
		remove()
	}
}

func TestBridge_RunReleasesConnectionListener(t *testing.T) {
	_, client := connectClient(t)
	dev := &listenerCountingDevice{Client: client}

	for range 3 {
		broker := newFakeBroker()
		topics := NewTopics("nax", "lab")
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- New(dev, broker, topics).Run(ctx) }()

		require.Eventually(t, func() bool { return broker.value(topics.Availability()) == PayloadOnline },
			2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int32(1), dev.active.Load())

		cancel()
		require.NoError(t, <-done)
		assert.Zero(t, dev.active.Load())
	}
}
