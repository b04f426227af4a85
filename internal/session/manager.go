package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

// Session defaults.
const (
	DefaultMissedHeartbeats = 3
	DefaultSubscribeTimeout = 10 * time.Second
)

// ErrStopped is returned by Start on a manager that has been stopped.
var ErrStopped = errors.New("session: manager stopped")

var errReconnectRequested = errors.New("reconnect requested")

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Subscribing
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Subscribing:
		return "subscribing"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Observer receives session telemetry. Calls are made from the run
// goroutine and must not block.
type Observer interface {
	StateChanged(host string, from, to State)
	FrameReceived(host string, kind transport.FrameKind, size int)
	MalformedFrame(host string)
	ReconnectAttempt(host string, attempt int, delay time.Duration)
}

// Config wires a Manager to its device and to the store and dispatcher it
// feeds.
type Config struct {
	Dialer      transport.Dialer
	Credentials transport.Credentials

	Backoff          BackoffConfig
	MissedHeartbeats int
	SubscribeTimeout time.Duration
	Subscriptions    []state.DevicePath

	Schema         *protocol.Schema
	DecoderOptions []protocol.DecoderOption
	Encoder        *protocol.Encoder
	Store          *state.Store
	Dispatcher     *dispatch.Dispatcher
	Observer       Observer
}

// Manager owns the connection to one device. A single run goroutine
// connects, subscribes, feeds decoded events to the store and dispatcher,
// and reconnects with backoff when the connection is lost.
type Manager struct {
	cfg  Config
	host string

	mu         sync.RWMutex
	state      State
	lastErr    error
	conn       *transport.Conn
	changed    chan struct{}
	onChange   []func(from, to State)
	onRetry    []func(attempt int, delay time.Duration)
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	reconnectC chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// New validates cfg and creates a stopped Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Dialer.Host == "" {
		return nil, fmt.Errorf("session: device host is required")
	}
	if cfg.Store == nil || cfg.Dispatcher == nil || cfg.Schema == nil || cfg.Encoder == nil {
		return nil, fmt.Errorf("session: store, dispatcher, schema and encoder are required")
	}
	if cfg.MissedHeartbeats <= 0 {
		cfg.MissedHeartbeats = DefaultMissedHeartbeats
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if cfg.Dialer.HeartbeatInterval == 0 {
		cfg.Dialer.HeartbeatInterval = transport.DefaultHeartbeatInterval
	}
	if len(cfg.Subscriptions) == 0 {
		cfg.Subscriptions = []state.DevicePath{protocol.DeviceRoot}
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	return &Manager{
		cfg:        cfg,
		host:       cfg.Dialer.Host,
		changed:    make(chan struct{}),
		reconnectC: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Host returns the device host.
func (m *Manager) Host() string { return m.host }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the error that ended the most recent connection
// attempt or session, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// OnStateChange registers fn to be called on every state transition.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// OnReconnecting registers fn to be called before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	m.onRetry = append(m.onRetry, fn)
	m.mu.Unlock()
}

// Start launches the run goroutine. A Manager runs at most once.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return nil
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return nil
}

// Stop ends the session: it cancels any backoff wait, closes the
// connection, fails outstanding commands with NotConnected and waits for
// the run goroutine. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started, cancel := m.started, m.cancel
		m.mu.Unlock()

		if !started {
			m.cfg.Dispatcher.Detach(nil)
			close(m.done)
			return
		}
		cancel()
		<-m.done
	})
}

// Done is closed once the run goroutine has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Reconnect drops a live connection and goes through the reconnect
// sequence. Requests made while not Connected, or while one is already
// queued, are ignored.
func (m *Manager) Reconnect() {
	if m.State() != Connected {
		return
	}
	select {
	case m.reconnectC <- struct{}{}:
	default:
	}
}

// Refresh requests the current value of everything under path. Replies
// arrive as ordinary state updates.
func (m *Manager) Refresh(ctx context.Context, path state.DevicePath) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || m.State() != Connected {
		return naxerr.NewNotConnectedError("device is not connected")
	}
	return conn.Send(ctx, m.cfg.Encoder.EncodeGet(path))
}

// AwaitConnected blocks until the session is Connected, the manager has
// stopped, or ctx ends. When the manager stopped on its own the error that
// stopped it is returned.
func (m *Manager) AwaitConnected(ctx context.Context) error {
	for {
		m.mu.RLock()
		st, changed := m.state, m.changed
		m.mu.RUnlock()

		if st == Connected {
			return nil
		}
		select {
		case <-m.done:
			if err := m.LastError(); err != nil {
				return err
			}
			return naxerr.NewNotConnectedError("session stopped")
		default:
		}

		select {
		case <-changed:
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	listeners := append([]func(from, to State){}, m.onChange...)
	m.mu.Unlock()

	logging.LogStateTransition(m.host, from.String(), to.String())
	if m.cfg.Observer != nil {
		m.cfg.Observer.StateChanged(m.host, from, to)
	}
	for _, fn := range listeners {
		fn(from, to)
	}
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setConn(c *transport.Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer func() {
		m.cfg.Dispatcher.Detach(nil)
		m.cfg.Store.MarkStale()
		m.setState(Disconnected)
	}()

	bo := NewBackoff(m.cfg.Backoff)
	failures := 0

	for {
		connected, err := m.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			bo.Reset()
			failures = 0
		}
		if err != nil && !errors.Is(err, errReconnectRequested) {
			m.setError(err)
		}

		if naxerr.IsFatal(err) {
			logging.Error("Giving up on device",
				zap.String("host", m.host),
				zap.Error(err),
				zap.String("hint", naxerr.Hint(err)))
			return
		}

		failures++
		if m.cfg.Backoff.Exhausted(failures) {
			uerr := naxerr.NewUnavailableError(
				fmt.Sprintf("device unreachable after %d attempts", failures), err)
			m.setError(uerr)
			logging.Error("Giving up on device", zap.String("host", m.host), zap.Error(uerr))
			return
		}

		delay := bo.Next()
		m.setState(Reconnecting)
		logging.Warn("Reconnecting",
			zap.String("host", m.host),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(err))
		m.notifyRetry(failures, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) notifyRetry(attempt int, delay time.Duration) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.ReconnectAttempt(m.host, attempt, delay)
	}
	m.mu.RLock()
	listeners := append([]func(int, time.Duration){}, m.onRetry...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(attempt, delay)
	}
}

// connect runs one connection from login to teardown. connected reports
// whether the session reached Connected.
func (m *Manager) connect(ctx context.Context) (connected bool, err error) {
	m.setState(Connecting)
	hs, err := m.cfg.Dialer.Open(ctx)
	if err != nil {
		return false, err
	}

	m.setState(Authenticating)
	conn, err := hs.Authenticate(ctx, m.cfg.Credentials)
	if err != nil {
		return false, err
	}
	m.setConn(conn)
	defer func() {
		m.cfg.Dispatcher.Detach(nil)
		m.cfg.Store.MarkStale()
		m.setConn(nil)
		_ = conn.Close()
	}()

	m.setState(Subscribing)
	dec := protocol.NewDecoder(m.cfg.Schema, m.cfg.DecoderOptions...)
	waiting := make(map[state.DevicePath]bool, len(m.cfg.Subscriptions))
	for _, root := range m.cfg.Subscriptions {
		waiting[root] = true
		dec.Expect(root)
		if err := conn.Send(ctx, m.cfg.Encoder.EncodeGet(root)); err != nil {
			return false, err
		}
	}

	subTimer := time.NewTimer(m.cfg.SubscribeTimeout)
	defer subTimer.Stop()

	var (
		watchdog  *time.Timer
		watchdogC <-chan time.Time
		silence   = m.cfg.Dialer.HeartbeatInterval * time.Duration(m.cfg.MissedHeartbeats)
	)
	if silence > 0 {
		watchdog = time.NewTimer(silence)
		defer watchdog.Stop()
		watchdogC = watchdog.C
	}

	for {
		select {
		case <-ctx.Done():
			return connected, ctx.Err()

		case f, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return connected, err
				}
				return connected, naxerr.NewNetworkError("connection lost", nil)
			}
			if watchdog != nil {
				watchdog.Reset(silence)
			}
			m.handleFrame(dec, f, waiting)

			if !connected && len(waiting) == 0 {
				connected = true
				subTimer.Stop()
				select {
				case <-m.reconnectC:
				default:
				}
				m.cfg.Store.MarkFresh()
				m.cfg.Dispatcher.Attach(conn)
				m.setError(nil)
				m.setState(Connected)
				logging.LogConnection(m.host, "subscribed", zap.Int("paths", m.cfg.Store.Len()))
			}

		case <-subTimer.C:
			if !connected {
				return false, naxerr.NewTimeoutError(protocol.SubscribeAll,
					fmt.Sprintf("no subscription response within %s", m.cfg.SubscribeTimeout))
			}

		case <-watchdogC:
			return connected, naxerr.NewNetworkError(
				fmt.Sprintf("no heartbeat for %s", silence), nil)

		case <-m.reconnectC:
			if connected {
				logging.LogConnection(m.host, "reconnect_requested")
				return connected, errReconnectRequested
			}
		}
	}
}

// handleFrame decodes f, applies updates to the store and then lets the
// dispatcher see every event.
func (m *Manager) handleFrame(dec *protocol.Decoder, f transport.Frame, waiting map[state.DevicePath]bool) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.FrameReceived(m.host, f.Kind, len(f.Data))
	}
	events, err := dec.Decode(f)
	if err != nil {
		logging.Warn("Dropped malformed frame", zap.String("host", m.host), zap.Error(err))
		if m.cfg.Observer != nil {
			m.cfg.Observer.MalformedFrame(m.host)
		}
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case protocol.StateUpdate:
			m.cfg.Store.Apply(e.Path, e.Value)
		case protocol.SubscriptionAck:
			delete(waiting, e.Root)
		}
		m.cfg.Dispatcher.Observe(ev)
	}
}
