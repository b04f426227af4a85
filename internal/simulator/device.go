package simulator

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
)

// EchoMode selects how the simulator answers a set.
type EchoMode int

const (
	// EchoBoth pushes the changed state and then an Actions result.
	EchoBoth EchoMode = iota
	// EchoState pushes only the changed state.
	EchoState
	// EchoActions sends only the Actions result.
	EchoActions
	// EchoNone applies the set silently.
	EchoNone
)

// Config configures a Device.
type Config struct {
	Username string
	Password string
	Zones    int
	Inputs   int
	// Tree overrides the generated default tree.
	Tree map[string]any
}

// DefaultConfig returns an 8-zone, 8-input device with admin/admin login.
func DefaultConfig() Config {
	return Config{Username: "admin", Password: "admin", Zones: 8, Inputs: 8}
}

type session struct {
	authenticated bool
	token         string
}

// Device is a fake NAX device speaking the CresNext login and WebSocket
// protocol. It implements http.Handler.
type Device struct {
	cfg     Config
	tree    *Tree
	handler http.Handler

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	clients  map[*client]struct{}
	rejects  map[string]string
	received []string

	echo        atomic.Int32
	silent      atomic.Bool
	omitToken   atomic.Bool
	refuseLogin atomic.Bool
	failOpens   atomic.Int32
	splitSize   atomic.Int32
	coalesce    atomic.Bool

	logins    atomic.Int64
	opens     atomic.Int64
	logouts   atomic.Int64
	upgrades  atomic.Int64
	connected chan struct{}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	remote  string
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// NewDevice creates a simulated device.
func NewDevice(cfg Config) *Device {
	if cfg.Zones == 0 && cfg.Inputs == 0 && cfg.Tree == nil {
		def := DefaultConfig()
		cfg.Zones, cfg.Inputs = def.Zones, def.Inputs
	}
	tree := cfg.Tree
	if tree == nil {
		tree = DefaultTree(cfg.Zones, cfg.Inputs)
	}
	d := &Device{
		cfg:       cfg,
		tree:      NewTree(tree),
		sessions:  make(map[string]*session),
		clients:   make(map[*client]struct{}),
		rejects:   make(map[string]string),
		connected: make(chan struct{}, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Get("/userlogin.html", d.handleLoginPage)
	r.Post("/userlogin.html", d.handleLogin)
	r.Get("/logout", d.handleLogout)
	r.Get("/websockify", d.handleWebSocket)
	d.handler = r
	return d
}

// ServeHTTP implements http.Handler.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.handler.ServeHTTP(w, r)
}

// Tree returns the device state.
func (d *Device) Tree() *Tree { return d.tree }

func (d *Device) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	d.opens.Add(1)
	if n := d.failOpens.Load(); n > 0 && d.failOpens.CompareAndSwap(n, n-1) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	id := uuid.NewString()
	d.mu.Lock()
	d.sessions[id] = &session{}
	d.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "TRACKID", Value: id, Path: "/", Secure: true, HttpOnly: true})
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("<html><body><form method=post></form></body></html>"))
}

func (d *Device) lookupSession(r *http.Request) (*session, bool) {
	c, err := r.Cookie("TRACKID")
	if err != nil {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[c.Value]
	return s, ok
}

func (d *Device) handleLogin(w http.ResponseWriter, r *http.Request) {
	d.logins.Add(1)
	s, ok := d.lookupSession(r)
	if !ok {
		http.Error(w, "session expired", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if d.refuseLogin.Load() || r.PostForm.Get("login") != d.cfg.Username || r.PostForm.Get("passwd") != d.cfg.Password {
		logging.Info("Simulator rejected login", zap.String("username", r.PostForm.Get("login")))
		http.Error(w, "Invalid username or password", http.StatusForbidden)
		return
	}

	token := uuid.NewString()
	d.mu.Lock()
	s.authenticated = true
	s.token = token
	d.mu.Unlock()
	if !d.omitToken.Load() {
		w.Header().Set("CREST-XSRF-TOKEN", token)
	}
	w.WriteHeader(http.StatusOK)
}

func (d *Device) handleLogout(w http.ResponseWriter, r *http.Request) {
	d.logouts.Add(1)
	if c, err := r.Cookie("TRACKID"); err == nil {
		d.mu.Lock()
		delete(d.sessions, c.Value)
		d.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (d *Device) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := d.lookupSession(r)
	d.mu.Lock()
	valid := ok && s.authenticated && s.token == r.Header.Get("X-CREST-XSRF-TOKEN")
	d.mu.Unlock()
	if !valid {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Simulator upgrade failed", zap.Error(err))
		return
	}
	d.upgrades.Add(1)

	c := &client{conn: conn, remote: r.RemoteAddr}
	conn.SetPingHandler(func(appData string) error {
		if d.silent.Load() {
			return nil
		}
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()
	logging.LogConnection(c.remote, "simulator_client_connected")
	select {
	case d.connected <- struct{}{}:
	default:
	}

	d.serve(c)
}

func (d *Device) serve(c *client) {
	defer func() {
		d.mu.Lock()
		delete(d.clients, c)
		d.mu.Unlock()
		_ = c.conn.Close()
		logging.LogConnection(c.remote, "simulator_client_closed")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		text := strings.TrimSpace(string(data))
		d.mu.Lock()
		d.received = append(d.received, text)
		d.mu.Unlock()

		if strings.HasPrefix(text, "/") {
			d.handleGet(c, text)
			continue
		}
		d.handleSet(c, []byte(text))
	}
}

func (d *Device) handleGet(c *client, path string) {
	payload, ok := d.tree.Get(path)
	if !ok {
		logging.Debug("Simulator get for unknown path", zap.String("path", path))
		return
	}
	d.send(c, payload)
}

type result struct {
	Path       string `json:"Path"`
	Property   string `json:"Property"`
	StatusID   int    `json:"StatusId"`
	StatusInfo string `json:"StatusInfo"`
}

func (d *Device) handleSet(c *client, data []byte) {
	leaves, err := ParseSet(data)
	if err != nil {
		logging.Debug("Simulator ignored invalid set", zap.Error(err))
		return
	}

	var accepted []Leaf
	var results []result
	for _, l := range leaves {
		idx := strings.LastIndex(l.Path, "/")
		res := result{Path: l.Path[:idx], Property: l.Path[idx+1:], StatusInfo: "OK"}

		d.mu.Lock()
		reason, rejected := d.rejects[l.Path]
		d.mu.Unlock()
		if rejected {
			res.StatusID = 1
			res.StatusInfo = reason
		} else {
			d.tree.Set(l.Path, l.Value)
			accepted = append(accepted, l)
			// Receivers report the requested address as their status.
			if strings.HasSuffix(l.Path, "/NetworkAddressRequested") {
				status := strings.TrimSuffix(l.Path, "Requested") + "Status"
				d.tree.Set(status, l.Value)
				accepted = append(accepted, Leaf{Path: status, Value: l.Value})
			}
		}
		results = append(results, res)
	}

	mode := EchoMode(d.echo.Load())
	var out [][]byte
	if len(accepted) > 0 && (mode == EchoBoth || mode == EchoState) {
		if payload, err := Nest(accepted...); err == nil {
			out = append(out, payload)
		}
	}
	if mode == EchoBoth || mode == EchoActions || len(accepted) < len(leaves) {
		env := map[string]any{"Actions": []any{map[string]any{"Results": results}}}
		if payload, err := json.Marshal(env); err == nil {
			out = append(out, payload)
		}
	}
	if mode == EchoNone && len(accepted) == len(leaves) {
		out = nil
	}

	if d.coalesce.Load() && len(out) > 1 {
		d.send(c, joinFrames(out))
		return
	}
	for _, payload := range out {
		d.send(c, payload)
	}
}

func joinFrames(frames [][]byte) []byte {
	var all []byte
	for _, f := range frames {
		all = append(all, f...)
	}
	return all
}

// send writes payload, honoring silence and frame splitting.
func (d *Device) send(c *client, payload []byte) {
	if d.silent.Load() {
		return
	}
	chunk := int(d.splitSize.Load())
	if chunk <= 0 || chunk >= len(payload) {
		_ = c.write(websocket.TextMessage, payload)
		return
	}
	for start := 0; start < len(payload); start += chunk {
		end := min(start+chunk, len(payload))
		if err := c.write(websocket.TextMessage, payload[start:end]); err != nil {
			return
		}
	}
}

func (d *Device) snapshotClients() []*client {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*client, 0, len(d.clients))
	for c := range d.clients {
		out = append(out, c)
	}
	return out
}

// Push changes one attribute as if it changed on the device and notifies
// every connected client.
func (d *Device) Push(path string, value any) {
	d.tree.Set(path, value)
	payload, err := Nest(Leaf{Path: path, Value: value})
	if err != nil {
		return
	}
	for _, c := range d.snapshotClients() {
		d.send(c, payload)
	}
}

// InjectRaw sends data verbatim to every connected client, bypassing
// silence and splitting.
func (d *Device) InjectRaw(data []byte) {
	for _, c := range d.snapshotClients() {
		_ = c.write(websocket.TextMessage, data)
	}
}

// DropConnections closes every WebSocket without a close handshake.
func (d *Device) DropConnections() {
	for _, c := range d.snapshotClients() {
		_ = c.conn.UnderlyingConn().Close()
	}
}

// Reject makes sets of path fail with statusInfo. An empty statusInfo
// clears the rejection.
func (d *Device) Reject(path, statusInfo string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if statusInfo == "" {
		delete(d.rejects, path)
		return
	}
	d.rejects[path] = statusInfo
}

// SetEchoMode selects how sets are answered.
func (d *Device) SetEchoMode(m EchoMode) { d.echo.Store(int32(m)) }

// SetSilent stops all outbound traffic including pongs.
func (d *Device) SetSilent(silent bool) { d.silent.Store(silent) }

// SetRefuseLogin makes every credential post fail.
func (d *Device) SetRefuseLogin(refuse bool) { d.refuseLogin.Store(refuse) }

// SetOmitToken drops the XSRF header from successful logins.
func (d *Device) SetOmitToken(omit bool) { d.omitToken.Store(omit) }

// FailNextOpens makes the next n login page requests fail with 503.
func (d *Device) FailNextOpens(n int) { d.failOpens.Store(int32(n)) }

// SetSplitSize splits every outbound payload into chunks of n bytes.
func (d *Device) SetSplitSize(n int) { d.splitSize.Store(int32(n)) }

// SetCoalesce sends state and result of one set in a single frame.
func (d *Device) SetCoalesce(on bool) { d.coalesce.Store(on) }

// Received returns every text frame received so far.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

// Clients returns the number of open WebSockets.
func (d *Device) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Connected receives a value each time a WebSocket is accepted.
func (d *Device) Connected() <-chan struct{} { return d.connected }

// Stats reports request counters.
type Stats struct {
	Opens    int64
	Logins   int64
	Logouts  int64
	Upgrades int64
}

// Stats returns request counters.
func (d *Device) Stats() Stats {
	return Stats{
		Opens:    d.opens.Load(),
		Logins:   d.logins.Load(),
		Logouts:  d.logouts.Load(),
		Upgrades: d.upgrades.Load(),
	}
}
