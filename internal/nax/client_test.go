package nax

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

func startDevice(t *testing.T) (*simulator.Device, Config) {
	t.Helper()
	dev := simulator.NewDevice(simulator.Config{Username: "admin", Password: "secret", Zones: 3, Inputs: 3})
	srv := httptest.NewTLSServer(dev)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = "secret"
	cfg.CommandTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.Reconnect.InitialDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return dev, cfg
}

func connect(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

func TestClient_VolumeChangeNotifiesOnce(t *testing.T) {
	_, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()

	before, err := c.GetState("zone/1/volume")
	require.NoError(t, err)
	assert.Equal(t, state.Int(40), before.Value)

	sub, err := c.OnChange("zone/1/volume")
	require.NoError(t, err)
	defer sub.Close()

	_, err = c.SendCommand(ctx, "zone/1/volume", 55)
	require.NoError(t, err)

	after, err := c.GetState("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume")
	require.NoError(t, err)
	assert.Equal(t, state.Int(55), after.Value)
	assert.Greater(t, after.Revision, before.Revision)

	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	change, err := sub.Next(wctx)
	require.NoError(t, err)
	assert.Equal(t, state.Int(55), change.Value)

	time.Sleep(100 * time.Millisecond)
	_, more := sub.TryNext()
	assert.False(t, more, "expected exactly one notification")
}

func TestClient_InvalidCommandNeverReachesDevice(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()
	sent := len(dev.Received())

	tests := []struct {
		path  string
		value any
	}{
		{"zone/1/volume", 101},
		{"zone/1/volume", -1},
		{"zone/1/nightmode", "Loud"},
		{"zone/1/mute", "yes please"},
		{"zone/1/source", "Input09"},
		{"zone/1/name", "Kitchen"},
		{"/Device/Nowhere", 1},
	}
	for _, tt := range tests {
		_, err := c.SendCommand(ctx, tt.path, tt.value)
		assert.True(t, naxerr.IsInvalidCommand(err), "%s=%v: %v", tt.path, tt.value, err)
	}
	assert.Len(t, dev.Received(), sent)
}

func TestClient_DeviceRejection(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	dev.Reject("/Device/ZoneOutputs/Zones/Zone02/ZoneAudio/IsMuted", "Zone is locked")
	_, err := c.Zone("2").SetMuted(context.Background(), true)
	require.Error(t, err)
	assert.True(t, naxerr.IsDeviceRejected(err), "got %v", err)

	muted, ok := c.Zone("2").Muted()
	assert.True(t, ok)
	assert.False(t, muted)
}

func TestClient_BackToBackSetsKeepTheirOwnResults(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()
	zone := c.Zone("1")

	// The device answers with state first and its Actions result second,
	// so the first step returns before its result has arrived.
	res, err := zone.VolumeUp(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, state.Int(50), res.Value)

	dev.Reject("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume", "Zone is locked")
	res, err = zone.VolumeUp(ctx, 0)
	require.Error(t, err)
	assert.True(t, naxerr.IsDeviceRejected(err), "got %v", err)
	assert.Contains(t, err.Error(), "Zone is locked")
	assert.Equal(t, dispatch.OutcomeRejected, res.Outcome)

	vol, ok := zone.Volume()
	assert.True(t, ok)
	assert.Equal(t, 50, vol)
	assert.Zero(t, c.dispatcher.Pending())
}

func TestClient_ZoneHelpers(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()

	zones := c.Zones()
	require.Len(t, zones, 3)
	z := zones[0]
	assert.Equal(t, "Zone01", z.ID)
	assert.Equal(t, "Zone 1 (Zone01)", z.String())

	_, err := z.VolumeUp(ctx, 0)
	require.NoError(t, err)
	vol, _ := z.Volume()
	assert.Equal(t, 50, vol)

	_, err = z.SetVolume(ctx, 98)
	require.NoError(t, err)
	_, err = z.VolumeUp(ctx, 5)
	require.NoError(t, err)
	vol, _ = z.Volume()
	assert.Equal(t, 100, vol, "volume clamps at the range maximum")

	_, err = z.SetNightMode(ctx, "medium")
	require.NoError(t, err)
	assert.Equal(t, "Medium", z.NightMode())

	_, err = z.SetToneProfile(ctx, "Jazz")
	require.NoError(t, err)
	assert.Equal(t, "Jazz", z.ToneProfile())

	_, err = z.SetLoudness(ctx, true)
	require.NoError(t, err)
	_, err = z.SetTestTone(ctx, true)
	require.NoError(t, err)
	on, _ := dev.Tree().Value("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/IsTestToneActive")
	assert.Equal(t, true, on)

	assert.Empty(t, z.Faults())
	dev.Push("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Speaker/Faults/IsDcFaultDetected", true)
	require.Eventually(t, func() bool { return len(z.Faults()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"IsDcFaultDetected"}, z.Faults())
}

func TestClient_SourceTurnOffAndOn(t *testing.T) {
	_, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()
	z := c.Zone("Zone02")

	assert.False(t, z.On())
	_, err := z.TurnOn(ctx)
	assert.True(t, naxerr.IsInvalidCommand(err), "nothing to restore yet: %v", err)

	_, err = z.SelectSource(ctx, "Input 3")
	require.NoError(t, err)
	assert.Equal(t, "Input03", z.Source())

	_, err = z.TurnOff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", z.Source())
	assert.False(t, z.On())

	_, err = z.TurnOn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Input03", z.Source())
}

func TestClient_TurnOnRestoresSourceChangedOnDevice(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)
	z := c.Zone("3")

	dev.Push("/Device/AvMatrixRouting/Routes/Zone03/AudioSource", "Input02")
	require.Eventually(t, func() bool { return c.lastSource("Zone03") == "Input02" }, 2*time.Second, 5*time.Millisecond)
	dev.Push("/Device/AvMatrixRouting/Routes/Zone03/AudioSource", "")
	require.Eventually(t, func() bool { return z.Source() == "" }, 2*time.Second, 5*time.Millisecond)

	_, err := z.TurnOn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Input02", z.Source())
}

func TestClient_AES67Streams(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()

	streams := c.AES67Streams()
	var addrs []string
	for _, s := range streams {
		addrs = append(addrs, s.Address)
	}
	assert.Equal(t, []string{"0.0.0.0", "239.8.0.1", "239.8.0.2", "239.9.0.1"}, addrs)

	z := c.Zone("1")
	assert.Equal(t, "Rx01", z.Receiver())
	assert.Equal(t, "", z.AES67Stream())

	_, err := z.SelectAES67Stream(ctx, "Dante Bridge")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return z.AES67Stream() == "239.9.0.1" }, 2*time.Second, 5*time.Millisecond)
	requested, _ := dev.Tree().Value("/Device/NaxAudio/NaxRx/NaxRxStreams/Rx01/NetworkAddressRequested")
	assert.Equal(t, "239.9.0.1", requested)

	_, err = z.SelectAES67Stream(ctx, "239.1.2.3")
	assert.True(t, naxerr.IsInvalidCommand(err), "undiscovered stream: %v", err)

	_, err = z.SelectAES67Stream(ctx, "none")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return z.AES67Stream() == "" }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_InventoryAndDeviceInfo(t *testing.T) {
	_, cfg := startDevice(t)
	c := connect(t, cfg)

	inputs := c.Inputs()
	require.Len(t, inputs, 3)
	assert.Equal(t, Input{ID: "Input01", Name: "Input 1", SignalPresent: true}, inputs[0])

	assert.Equal(t, []Chime{{ID: "Chime01", Name: "Ding Dong"}, {ID: "Chime02", Name: "Westminster"}}, c.Chimes())

	info := c.DeviceInfo()
	assert.Equal(t, "NAX-8ZSA", info.Model)
	assert.Equal(t, "Crestron", info.Manufacturer)

	opts, ok := c.Options("zone/1/source")
	assert.True(t, ok)
	assert.Equal(t, []string{"Input01", "Input02", "Input03"}, opts)
}

func TestClient_PlayChimeByName(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	_, err := c.PlayChime(context.Background(), "westminster")
	require.NoError(t, err)
	played, _ := dev.Tree().Value("/Device/DoorChimes/DefaultChimes/Chime02/Play")
	assert.Equal(t, true, played)
}

func TestClient_SendText(t *testing.T) {
	_, cfg := startDevice(t)
	c := connect(t, cfg)
	ctx := context.Background()

	_, err := c.SendText(ctx, "zone/1/mute", "on")
	require.NoError(t, err)
	muted, _ := c.Zone("1").Muted()
	assert.True(t, muted)

	_, err = c.SendText(ctx, "zone/1/volume", "loud")
	assert.True(t, naxerr.IsInvalidCommand(err))
}

func TestClient_DropWhilePendingThenRecover(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	var mu sync.Mutex
	var transitions []session.State
	c.OnConnectionChange(func(_, to session.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	dev.SetEchoMode(simulator.EchoNone)
	errc := make(chan error, 1)
	go func() {
		_, err := c.SendCommand(context.Background(), "zone/1/volume", 60)
		errc <- err
	}()
	require.Eventually(t, func() bool { return c.dispatcher.Pending() == 1 }, 2*time.Second, time.Millisecond)

	dev.DropConnections()
	err := <-errc
	assert.True(t, naxerr.IsNotConnected(err) || naxerr.IsTimeout(err), "got %v", err)

	require.Eventually(t, func() bool { return c.ConnectionState() == session.Connected }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, c.Stale())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, session.Reconnecting)
	assert.Equal(t, session.Connected, transitions[len(transitions)-1])
}

func TestClient_OnConnectionChangeRemove(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	var mu sync.Mutex
	var kept, removed int
	c.OnConnectionChange(func(_, _ session.State) {
		mu.Lock()
		kept++
		mu.Unlock()
	})
	remove := c.OnConnectionChange(func(_, _ session.State) {
		mu.Lock()
		removed++
		mu.Unlock()
	})
	require.Equal(t, 2, c.listenerCount())
	remove()
	remove()
	assert.Equal(t, 1, c.listenerCount())

	dev.DropConnections()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return kept > 0
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, removed)
}

func TestClient_CommandWhileDisconnected(t *testing.T) {
	_, cfg := startDevice(t)
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.SendCommand(context.Background(), "zone/1/mute", true)
	assert.True(t, naxerr.IsNotConnected(err), "got %v", err)
	assert.Equal(t, session.Disconnected, c.ConnectionState())
	assert.True(t, naxerr.IsNotConnected(c.Refresh(context.Background(), "zone/1")))
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, session.Disconnected, c.ConnectionState())
	assert.True(t, c.Stale())
	assert.Equal(t, int64(1), dev.Stats().Logouts)

	// The mirror survives and a new session reuses it.
	v, err := c.GetState("zone/1/volume")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	after, err := c.GetState("zone/1/volume")
	require.NoError(t, err)
	assert.Greater(t, after.Revision, v.Revision)
}

func TestClient_ConnectAuthFailure(t *testing.T) {
	_, cfg := startDevice(t)
	cfg.Password = "nope"
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Connect(ctx)
	assert.True(t, naxerr.IsAuth(err), "got %v", err)
	assert.True(t, naxerr.IsAuth(c.LastError()))
	assert.Equal(t, session.Disconnected, c.ConnectionState())
}

func TestClient_RefreshZone(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	dev.Tree().Set("/Device/ZoneOutputs/Zones/Zone01/Name", "Kitchen")
	require.NoError(t, c.Refresh(context.Background(), "zone/1"))
	require.Eventually(t, func() bool { return c.Zone("1").Name() == "Kitchen" }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_OnChangeAll(t *testing.T) {
	dev, cfg := startDevice(t)
	c := connect(t, cfg)

	sub, err := c.OnChange("")
	require.NoError(t, err)
	defer sub.Close()

	dev.Push(string(protocol.ChimePath("Chime01", protocol.ChimeName)), "Doorbell")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	change, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChimePath("Chime01", protocol.ChimeName), change.Path)
}
