package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/metrics"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
)

const volumePath = "/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume"

func deviceConfig(t *testing.T) (*simulator.Device, nax.Config) {
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
	return dev, cfg
}

func connectedClient(t *testing.T, cfg nax.Config, opts ...nax.Option) *nax.Client {
	t.Helper()
	c, err := nax.New(cfg, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

type fixture struct {
	dev    *simulator.Device
	client *nax.Client
	api    *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev, cfg := deviceConfig(t)
	col := metrics.New()
	client := connectedClient(t, cfg, nax.WithObserver(col.ForDevice("lab")))

	s, err := New(Deps{
		Config:  DefaultConfig(),
		Devices: map[string]*nax.Client{"lab": client},
		Metrics: col.Handler(),
		Version: "test",
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{dev: dev, client: client, api: s, http: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type attr struct {
	Path     string          `json:"path"`
	Kind     string          `json:"kind"`
	Value    json.RawMessage `json:"value"`
	Revision uint64          `json:"revision"`
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, status)

	h := decode[struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Devices map[string]string `json:"devices"`
	}](t, body)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, "connected", h.Devices["lab"])
}

func TestServer_GetState(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"shorthand", "/api/v1/state/zone/1/volume", http.StatusOK},
		{"device path", "/api/v1/state" + volumePath, http.StatusOK},
		{"scoped route", "/api/v1/devices/lab/state/zone/1/volume", http.StatusOK},
		{"never observed", "/api/v1/state/Device/Nowhere/Value", http.StatusNotFound},
		{"bad shorthand", "/api/v1/state/speaker/1", http.StatusBadRequest},
		{"unknown device", "/api/v1/devices/garage/state/zone/1/volume", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, status, string(body))
			if status == http.StatusOK {
				a := decode[attr](t, body)
				assert.Equal(t, volumePath, a.Path)
				assert.Equal(t, "int", a.Kind)
				assert.JSONEq(t, "40", string(a.Value))
			}
		})
	}
}

func TestServer_ListStateByPrefix(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/v1/state?prefix=zone/1", "")
	require.Equal(t, http.StatusOK, status)

	list := decode[struct {
		Stale bool   `json:"stale"`
		Items []attr `json:"items"`
	}](t, body)
	assert.False(t, list.Stale)
	require.NotEmpty(t, list.Items)
	for _, a := range list.Items {
		assert.True(t, strings.HasPrefix(a.Path, "/Device/ZoneOutputs/Zones/Zone01"), a.Path)
	}
}

func TestServer_SetState(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPut, "/api/v1/state/zone/1/volume", `{"value": 55}`)
	require.Equal(t, http.StatusOK, status, string(body))
	res := decode[struct {
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value"`
		Seq   uint64          `json:"seq"`
	}](t, body)
	assert.Equal(t, volumePath, res.Path)
	assert.JSONEq(t, "55", string(res.Value))
	assert.NotZero(t, res.Seq)

	_, body = f.do(t, http.MethodGet, "/api/v1/state/zone/1/volume", "")
	assert.JSONEq(t, "55", string(decode[attr](t, body).Value))

	status, body = f.do(t, http.MethodPut, "/api/v1/state/zone/1/mute", `{"value": "true"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	muted, ok := f.client.Zone("1").Muted()
	assert.True(t, ok && muted)

	status, body = f.do(t, http.MethodPut, "/api/v1/state/zone/2/source", `{"value": "Input02"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Input02", f.client.Zone("2").Source())
}

func TestServer_SetStateErrors(t *testing.T) {
	f := newFixture(t)
	f.dev.Reject("/Device/ZoneOutputs/Zones/Zone02/ZoneAudio/IsMuted", "Zone is locked")

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"out of range", "zone/1/volume", `{"value": 150}`, http.StatusBadRequest, ErrCodeInvalidCommand},
		{"wrong type", "zone/1/mute", `{"value": 3}`, http.StatusBadRequest, ErrCodeInvalidCommand},
		{"read only", "zone/1/name", `{"value": "Kitchen"}`, http.StatusBadRequest, ErrCodeInvalidCommand},
		{"missing value", "zone/1/volume", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"not json", "zone/1/volume", `volume=3`, http.StatusBadRequest, ErrCodeBadRequest},
		{"rejected", "zone/2/mute", `{"value": true}`, http.StatusUnprocessableEntity, ErrCodeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPut, "/api/v1/state/"+tt.path, tt.body)
			require.Equal(t, tt.wantStatus, status, string(body))
			e := decode[Error](t, body)
			assert.Equal(t, tt.wantCode, e.Code)
		})
	}
}

func TestServer_NotConnected(t *testing.T) {
	_, cfg := deviceConfig(t)
	client, err := nax.New(cfg)
	require.NoError(t, err)

	s, err := New(Deps{Config: DefaultConfig(), Devices: map[string]*nax.Client{"lab": client}})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/state/zone/1/volume", strings.NewReader(`{"value": 20}`))
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := ts.Client().Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var h map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&h))
	assert.Equal(t, "degraded", h["status"])
}

func TestServer_Zones(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/zones", "")
	require.Equal(t, http.StatusOK, status)
	zones := decode[[]zoneView](t, body)
	require.Len(t, zones, 2)
	assert.Equal(t, "Zone01", zones[0].ID)
	assert.Equal(t, "Zone 1", zones[0].Name)
	require.NotNil(t, zones[0].Volume)
	assert.Equal(t, 40, *zones[0].Volume)

	status, _ = f.do(t, http.MethodGet, "/api/v1/zones/2", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "/api/v1/zones/9", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/inputs", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]nax.Input](t, body), 2)

	status, body = f.do(t, http.MethodGet, "/api/v1/streams", "")
	require.Equal(t, http.StatusOK, status)
	streams := decode[[]nax.Stream](t, body)
	require.NotEmpty(t, streams)
	assert.Equal(t, nax.StreamNone, streams[0].Kind)

	status, body = f.do(t, http.MethodGet, "/api/v1/info", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "NAX Simulator", decode[nax.DeviceInfo](t, body).Name)
}

func TestServer_Connection(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/v1/devices/lab/connection", "")
	require.Equal(t, http.StatusOK, status)
	c := decode[connectionView](t, body)
	assert.Equal(t, "connected", c.State)
	assert.False(t, c.Stale)

	status, _ = f.do(t, http.MethodPost, "/api/v1/refresh?path=zone/1", "")
	assert.Equal(t, http.StatusAccepted, status)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/v1/state/zone/1/volume", `{"value": 33}`)

	status, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `nax_connection_state{device="lab",state="connected"} 1`)
	assert.Contains(t, string(body), "nax_commands_total")
}

func TestServer_Events(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/events?prefix=zone/1/volume"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.api.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	status, _ := f.do(t, http.MethodPut, "/api/v1/state/zone/1/volume", `{"value": 30}`)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type      string `json:"type"`
		EventType string `json:"event_type"`
		Payload   attr   `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, EventState, msg.EventType)
	assert.Equal(t, volumePath, msg.Payload.Path)
	assert.JSONEq(t, "30", string(msg.Payload.Value))

	conn.Close()
	require.Eventually(t, func() bool { return f.api.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_EventsReplay(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/events?prefix=zone/2/volume&replay=true"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/Device/ZoneOutputs/Zones/Zone02/ZoneAudio/Volume", payload["path"])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, cfg := deviceConfig(t)
	a, err := nax.New(cfg)
	require.NoError(t, err)
	b, err := nax.New(cfg)
	require.NoError(t, err)

	_, err = New(Deps{Devices: map[string]*nax.Client{"a": a}, Default: "b"})
	assert.Error(t, err)

	s, err := New(Deps{Devices: map[string]*nax.Client{"a": a, "b": b}})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	resp, err := ts.Client().Get(ts.URL + "/api/v1/connection")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/api/v1/devices/b/connection")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
