package nax

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

// Observer receives session and command telemetry.
type Observer interface {
	session.Observer
	dispatch.Observer
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	observer Observer
	tracer   trace.Tracer
}

// WithObserver reports connection, frame and command events to o.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(opts *options) { opts.tracer = t }
}

type listener struct {
	id uint64
	fn func(from, to session.State)
}

// Client is the consumer API for one NAX device. The state mirror and
// command ledger outlive individual connections, so subscriptions taken
// before Connect keep receiving updates across reconnects.
type Client struct {
	cfg  Config
	opts options

	schema     *protocol.Schema
	store      *state.Store
	encoder    *protocol.Encoder
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	mgr       *session.Manager
	lastErr   error
	listeners []listener
	nextID    uint64
	tracker   *state.Subscription

	sourceMu    sync.Mutex
	lastSources map[string]string
}

// New validates cfg and creates a disconnected Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	policy, _ := dispatch.ParseBusyPolicy(cfg.BusyPolicy)

	schema := protocol.DefaultSchema(cfg.volumeRange())
	store := state.NewStore()
	encoder := protocol.NewEncoder(schema, store)
	dcfg := dispatch.Config{Timeout: cfg.CommandTimeout, Policy: policy, Tracer: o.tracer}
	if o.observer != nil {
		dcfg.Observer = o.observer
	}

	return &Client{
		cfg:         cfg,
		opts:        o,
		schema:      schema,
		store:       store,
		encoder:     encoder,
		dispatcher:  dispatch.New(encoder, dcfg),
		lastSources: make(map[string]string),
	}, nil
}

// Host returns the configured device host.
func (c *Client) Host() string { return c.cfg.Host }

// Store exposes the state mirror.
func (c *Client) Store() *state.Store { return c.store }

// Schema returns the attribute schema in use.
func (c *Client) Schema() *protocol.Schema { return c.schema }

// VolumeRange returns the configured volume range.
func (c *Client) VolumeRange() protocol.Range { return c.cfg.volumeRange() }

func (c *Client) newManager() (*session.Manager, error) {
	subs, err := c.cfg.subscriptionPaths()
	if err != nil {
		return nil, err
	}
	pool, err := c.cfg.rootCAs()
	if err != nil {
		return nil, err
	}
	scfg := session.Config{
		Dialer: transport.Dialer{
			Host:              c.cfg.Host,
			Port:              c.cfg.Port,
			VerifyTLS:         c.cfg.VerifyTLS,
			RootCAs:           pool,
			HeartbeatInterval: c.cfg.HeartbeatInterval,
		},
		Credentials:      transport.Credentials{Username: c.cfg.Username, Password: c.cfg.Password},
		Backoff:          c.cfg.Reconnect,
		MissedHeartbeats: c.cfg.MissedHeartbeats,
		SubscribeTimeout: c.cfg.SubscribeTimeout,
		Subscriptions:    subs,
		Schema:           c.schema,
		DecoderOptions:   []protocol.DecoderOption{protocol.WithDropUnknown(c.cfg.DropUnknownPaths)},
		Encoder:          c.encoder,
		Store:            c.store,
		Dispatcher:       c.dispatcher,
	}
	if c.opts.observer != nil {
		scfg.Observer = c.opts.observer
	}
	mgr, err := session.New(scfg)
	if err != nil {
		return nil, err
	}
	mgr.OnStateChange(c.notifyState)
	return mgr, nil
}

func (c *Client) notifyState(from, to session.State) {
	c.mu.Lock()
	listeners := append([]listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.fn(from, to)
	}
}

// Connect starts the session and blocks until the device is Connected or
// the session gives up with a fatal error. If ctx ends first the session
// keeps trying in the background until Disconnect. Calling Connect on a
// running client just waits.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	mgr := c.mgr
	if mgr != nil {
		select {
		case <-mgr.Done():
			mgr = nil
		default:
		}
	}
	if mgr == nil {
		var err error
		mgr, err = c.newManager()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.mgr = mgr
		c.lastErr = nil
		if c.tracker == nil {
			c.tracker = c.store.Subscribe(state.WithPrefix(protocol.RoutesPath), state.WithReplay())
			go c.trackSources(c.tracker)
		}
		if err := mgr.Start(); err != nil {
			c.mu.Unlock()
			return err
		}
		logging.LogConnection(c.cfg.Host, "connect_requested")
	}
	c.mu.Unlock()

	if err := mgr.AwaitConnected(ctx); err != nil {
		if naxerr.IsFatal(err) {
			logging.Error("Connection failed",
				zap.String("host", c.cfg.Host),
				zap.Error(err),
				zap.String("hint", naxerr.Hint(err)))
		}
		return err
	}
	return nil
}

// Disconnect stops the session, logs out and fails outstanding commands
// with NotConnected. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	mgr, tracker := c.mgr, c.tracker
	c.tracker = nil
	c.mu.Unlock()

	if mgr != nil {
		mgr.Stop()
		c.mu.Lock()
		c.lastErr = mgr.LastError()
		c.mu.Unlock()
	}
	if tracker != nil {
		tracker.Close()
	}
}

// ConnectionState returns the current session state.
func (c *Client) ConnectionState() session.State {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return session.Disconnected
	}
	return mgr.State()
}

// OnConnectionChange registers fn for every connection state transition
// and returns a function that unregisters it. fn runs on the session
// goroutine and must not block.
func (c *Client) OnConnectionChange(fn func(from, to session.State)) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool { return l.id == id })
	}
}

func (c *Client) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// LastError returns the error behind the most recent connection failure.
func (c *Client) LastError() error {
	c.mu.Lock()
	mgr, lastErr := c.mgr, c.lastErr
	c.mu.Unlock()
	if mgr != nil {
		if err := mgr.LastError(); err != nil {
			return err
		}
	}
	return lastErr
}

// Reconnect drops and re-establishes a live connection.
func (c *Client) Reconnect() {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr != nil {
		mgr.Reconnect()
	}
}

// GetState returns the mirrored value at path, which may be a full device
// path or a shorthand such as "zone/1/volume".
func (c *Client) GetState(path string) (state.AttributeValue, error) {
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return state.AttributeValue{}, naxerr.NewInvalidCommandError(path, err.Error())
	}
	return c.store.Snapshot(p)
}

// Stale reports whether the mirror may be out of date because the
// session is not Connected.
func (c *Client) Stale() bool { return c.store.Stale() }

// OnChange subscribes to changes at or beneath path. An empty path
// subscribes to everything. Close the subscription when done.
func (c *Client) OnChange(path string, opts ...state.SubscribeOption) (*state.Subscription, error) {
	if path == "" {
		return c.store.Subscribe(opts...), nil
	}
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return nil, naxerr.NewInvalidCommandError(path, err.Error())
	}
	return c.store.Subscribe(append([]state.SubscribeOption{state.WithPrefix(p)}, opts...)...), nil
}

// SendCommand sets path to value and waits for the device to confirm.
// value may be a state.Value or a Go bool, integer, float or string.
func (c *Client) SendCommand(ctx context.Context, path string, value any) (dispatch.Result, error) {
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(path, err.Error())
	}
	v, ok := value.(state.Value)
	if !ok {
		if v, err = state.ValueOf(value); err != nil {
			return dispatch.Result{}, naxerr.NewInvalidCommandError(p.String(), err.Error())
		}
	}
	return c.send(ctx, p, v)
}

// SendText is SendCommand for textual input such as CLI arguments or MQTT
// payloads. The text is parsed according to the attribute's declared kind.
func (c *Client) SendText(ctx context.Context, path, text string) (dispatch.Result, error) {
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(path, err.Error())
	}
	attr, ok := c.schema.Lookup(p)
	if !ok {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(p.String(), "path is not a known attribute")
	}
	v, err := state.ParseValue(attr.Kind, text)
	if err != nil {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(p.String(), err.Error())
	}
	return c.send(ctx, p, v)
}

func (c *Client) send(ctx context.Context, p state.DevicePath, v state.Value) (dispatch.Result, error) {
	return c.dispatcher.Dispatch(ctx, protocol.Command{Path: p, Value: v})
}

// Options returns the values currently accepted at path, for enumerated
// attributes.
func (c *Client) Options(path string) ([]string, bool) {
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return nil, false
	}
	return c.encoder.Options(p)
}

// Refresh asks the device to resend everything under path.
func (c *Client) Refresh(ctx context.Context, path string) error {
	p, err := protocol.ResolvePath(path)
	if err != nil {
		return naxerr.NewInvalidCommandError(path, err.Error())
	}
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return naxerr.NewNotConnectedError("device is not connected")
	}
	return mgr.Refresh(ctx, p)
}

// trackSources remembers the last non-empty source of every zone so that
// TurnOn can restore it.
func (c *Client) trackSources(sub *state.Subscription) {
	for av := range sub.All(context.Background()) {
		if av.Path.Base() != protocol.RouteAudioSource {
			continue
		}
		src, _ := av.Value.AsString()
		if src == "" {
			continue
		}
		zone := av.Path.Parent().Base()
		c.sourceMu.Lock()
		c.lastSources[zone] = src
		c.sourceMu.Unlock()
	}
}

func (c *Client) lastSource(zone string) string {
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()
	return c.lastSources[zone]
}

func (c *Client) rememberSource(zone, src string) {
	if src == "" {
		return
	}
	c.sourceMu.Lock()
	c.lastSources[zone] = src
	c.sourceMu.Unlock()
}
