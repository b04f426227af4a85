package ui

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
)

func startMonitor(t *testing.T) (*Monitor, *simulator.Device) {
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

	client, err := nax.New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.Disconnect)

	m, err := NewMonitor(ctx, client, "lab")
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, dev
}

func press(m *Monitor, k string) tea.Cmd {
	var msg tea.KeyMsg
	switch k {
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	_, cmd := m.Update(msg)
	return cmd
}

func TestMonitor_ShowsZones(t *testing.T) {
	m, _ := startMonitor(t)

	require.Len(t, m.rows, 2)
	assert.Equal(t, "Zone01", m.rows[0].ID)
	assert.Equal(t, 40, m.rows[0].Volume)
	assert.True(t, m.rows[0].HasVolume)
	assert.Equal(t, session.Connected, m.conn)

	view := m.View()
	assert.Contains(t, view, "LAB")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "Zone 1")
	assert.Contains(t, view, "Zone 2")
}

func TestMonitor_Cursor(t *testing.T) {
	m, _ := startMonitor(t)

	press(m, "up")
	assert.Equal(t, 0, m.cursor)
	press(m, "down")
	assert.Equal(t, 1, m.cursor)
	press(m, "down")
	assert.Equal(t, 1, m.cursor, "cursor stays on the last zone")
}

func TestMonitor_VolumeUpCommand(t *testing.T) {
	m, _ := startMonitor(t)

	cmd := press(m, "+")
	require.NotNil(t, cmd)
	assert.Contains(t, m.status, "volume up")

	msg := cmd()
	res, ok := msg.(resultMsg)
	require.True(t, ok, "got %T", msg)
	require.NoError(t, res.err)

	m.Update(res)
	assert.False(t, m.statusErr)

	// The confirmed change is already mirrored; a change message refreshes
	// the rows from it.
	m.Update(changeMsg{})
	assert.Equal(t, 50, m.rows[0].Volume)
}

func TestMonitor_SourceAndPower(t *testing.T) {
	m, _ := startMonitor(t)

	msg := press(m, "s")()
	require.NoError(t, msg.(resultMsg).err)
	m.Update(changeMsg{})
	assert.Equal(t, "Input01", m.rows[0].Source)
	assert.Contains(t, m.View(), "Input01")

	msg = press(m, "o")()
	require.NoError(t, msg.(resultMsg).err)
	m.Update(changeMsg{})
	assert.Equal(t, "", m.rows[0].Source)

	msg = press(m, "o")()
	require.NoError(t, msg.(resultMsg).err)
	m.Update(changeMsg{})
	assert.Equal(t, "Input01", m.rows[0].Source, "power on restores the last source")
}

func TestMonitor_RejectedCommandShowsError(t *testing.T) {
	m, dev := startMonitor(t)
	dev.Reject("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/IsMuted", "locked")

	msg := press(m, "m")()
	m.Update(msg)
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, "mute")
}

func TestMonitor_ConnectionChange(t *testing.T) {
	m, _ := startMonitor(t)

	_, cmd := m.Update(connMsg{to: session.Reconnecting})
	assert.NotNil(t, cmd)
	assert.Equal(t, session.Reconnecting, m.conn)
	assert.Contains(t, m.View(), "reconnecting")
}

func TestMonitor_Quit(t *testing.T) {
	m, _ := startMonitor(t)

	cmd := press(m, "q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	_, cmd = m.Update(doneMsg{})
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestNextInput(t *testing.T) {
	inputs := []nax.Input{{ID: "Input01"}, {ID: "Input02"}}
	tests := []struct{ current, want string }{
		{"", "Input01"},
		{"Input01", "Input02"},
		{"Input02", "Input01"},
		{"Input09", "Input01"},
	}
	for _, tt := range tests {
		if got := nextInput(inputs, tt.current); got != tt.want {
			t.Errorf("nextInput(%q) = %q, want %q", tt.current, got, tt.want)
		}
	}
	if got := nextInput(nil, ""); got != "" {
		t.Errorf("nextInput(nil) = %q", got)
	}
	if !strings.HasSuffix(truncate("Living Room Left Speaker", 10), "…") {
		t.Error("truncate should mark cut names")
	}
}
