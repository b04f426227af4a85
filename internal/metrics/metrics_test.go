package metrics

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

func TestDeviceObserver_ConnectionState(t *testing.T) {
	c := New()
	o := c.ForDevice("kitchen")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionState.WithLabelValues("kitchen", "disconnected")))

	o.StateChanged("10.0.0.5", session.Disconnected, session.Connecting)
	o.StateChanged("10.0.0.5", session.Connecting, session.Authenticating)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionState.WithLabelValues("kitchen", "disconnected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionState.WithLabelValues("kitchen", "connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionState.WithLabelValues("kitchen", "authenticating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("kitchen", "connecting")))
}

func TestDeviceObserver_FramesAndReconnects(t *testing.T) {
	c := New()
	o := c.ForDevice("kitchen")

	o.FrameReceived("h", transport.FrameData, 120)
	o.FrameReceived("h", transport.FrameData, 30)
	o.FrameReceived("h", transport.FrameHeartbeat, 0)
	o.MalformedFrame("h")
	o.ReconnectAttempt("h", 1, time.Second)
	o.ReconnectAttempt("h", 2, 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesTotal.WithLabelValues("kitchen", "data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesTotal.WithLabelValues("kitchen", "heartbeat")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.frameBytesTotal.WithLabelValues("kitchen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformedTotal.WithLabelValues("kitchen")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnectsTotal.WithLabelValues("kitchen")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnectDelay.WithLabelValues("kitchen")))
}

func TestDeviceObserver_CommandsLabelledByAttribute(t *testing.T) {
	c := New()
	o := c.ForDevice("kitchen")

	vol := protocol.ZoneAudioPath("Zone01", protocol.AudioVolume)
	o.CommandFinished(vol, dispatch.OutcomeEcho, 20*time.Millisecond)
	o.CommandFinished(protocol.ZoneAudioPath("Zone02", protocol.AudioVolume), dispatch.OutcomeEcho, 30*time.Millisecond)
	o.CommandFinished(vol, dispatch.OutcomeTimeout, 5*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("kitchen", "Volume", "echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("kitchen", "Volume", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.commandDuration))
}

func TestCollector_SharedAcrossDevices(t *testing.T) {
	c := New()
	a, b := c.ForDevice("a"), c.ForDevice("b")
	a.MalformedFrame("x")
	b.MalformedFrame("y")
	b.MalformedFrame("y")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformedTotal.WithLabelValues("a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.malformedTotal.WithLabelValues("b")))
}

func TestCollector_Handler(t *testing.T) {
	c := New(WithNamespace("test"), WithRuntimeMetrics())
	c.ForDevice("kitchen").ReconnectAttempt("h", 1, time.Second)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `test_reconnect_attempts_total{device="kitchen"} 1`)
	assert.Contains(t, text, `test_connection_state{device="kitchen",state="disconnected"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestCollector_RecordsLiveClient(t *testing.T) {
	dev := simulator.NewDevice(simulator.Config{Username: "admin", Password: "secret", Zones: 2, Inputs: 2})
	srv := httptest.NewTLSServer(dev)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := nax.DefaultConfig()
	cfg.Host, cfg.Port, cfg.Password = host, port, "secret"
	cfg.CommandTimeout = 2 * time.Second

	col := New()
	client, err := nax.New(cfg, nax.WithObserver(col.ForDevice("lab")))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	_, err = client.SendCommand(ctx, "zone/1/volume", 60)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(col.connectionState.WithLabelValues("lab", "connected")))
	confirmed := testutil.ToFloat64(col.commandsTotal.WithLabelValues("lab", "Volume", "echo")) +
		testutil.ToFloat64(col.commandsTotal.WithLabelValues("lab", "Volume", "state"))
	assert.Equal(t, 1.0, confirmed)
	assert.Greater(t, testutil.ToFloat64(col.framesTotal.WithLabelValues("lab", "data")), 0.0)
}
