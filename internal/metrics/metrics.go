package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "nax"

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "nax").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for command latency.
	Buckets []float64

	// Registry receives the metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry

	// Runtime adds the Go runtime and process collectors.
	Runtime bool
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the command latency buckets.
func WithBuckets(b []float64) Option {
	return func(c *Config) { c.Buckets = b }
}

// WithRegistry registers into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = reg }
}

// WithRuntimeMetrics also exports Go runtime and process metrics.
func WithRuntimeMetrics() Option {
	return func(c *Config) { c.Runtime = true }
}

// commandBuckets cover a LAN round trip up to the default command timeout.
var commandBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var allStates = []session.State{
	session.Disconnected,
	session.Connecting,
	session.Authenticating,
	session.Subscribing,
	session.Connected,
	session.Reconnecting,
}

// Collector turns session and dispatch telemetry into Prometheus metrics.
// One Collector can serve many devices; use ForDevice to get the observer
// for each client.
type Collector struct {
	registry *prometheus.Registry

	connectionState  *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec
	framesTotal      *prometheus.CounterVec
	frameBytesTotal  *prometheus.CounterVec
	malformedTotal   *prometheus.CounterVec
	reconnectsTotal  *prometheus.CounterVec
	reconnectDelay   *prometheus.GaugeVec
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: DefaultNamespace, Buckets: commandBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Runtime {
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_state",
			Help:        "1 for the current connection state of each device, 0 otherwise",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device", "state"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "state_transitions_total",
			Help:        "Connection state transitions by target state",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device", "state"}),

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Inbound frames by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device", "kind"}),

		frameBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frame_bytes_received_total",
			Help:        "Inbound payload bytes",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device"}),

		malformedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "malformed_frames_total",
			Help:        "Frames dropped because they could not be decoded",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Scheduled reconnect attempts",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device"}),

		reconnectDelay: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnect_delay_seconds",
			Help:        "Backoff delay before the most recent reconnect attempt",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device"}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "commands_total",
			Help:        "Finished commands by attribute and outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"device", "attribute", "outcome"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "command_duration_seconds",
			Help:        "Time from send to confirmation or failure",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"device", "outcome"}),
	}
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ForDevice returns an observer that records under the given device
// label. It satisfies nax.Observer.
func (c *Collector) ForDevice(device string) *DeviceObserver {
	for _, s := range allStates {
		v := 0.0
		if s == session.Disconnected {
			v = 1
		}
		c.connectionState.WithLabelValues(device, s.String()).Set(v)
	}
	return &DeviceObserver{c: c, device: device}
}

// DeviceObserver records telemetry for one device.
type DeviceObserver struct {
	c      *Collector
	device string
}

// StateChanged implements session.Observer.
func (o *DeviceObserver) StateChanged(_ string, from, to session.State) {
	o.c.connectionState.WithLabelValues(o.device, from.String()).Set(0)
	o.c.connectionState.WithLabelValues(o.device, to.String()).Set(1)
	o.c.transitionsTotal.WithLabelValues(o.device, to.String()).Inc()
}

// FrameReceived implements session.Observer.
func (o *DeviceObserver) FrameReceived(_ string, kind transport.FrameKind, size int) {
	o.c.framesTotal.WithLabelValues(o.device, kind.String()).Inc()
	o.c.frameBytesTotal.WithLabelValues(o.device).Add(float64(size))
}

// MalformedFrame implements session.Observer.
func (o *DeviceObserver) MalformedFrame(string) {
	o.c.malformedTotal.WithLabelValues(o.device).Inc()
}

// ReconnectAttempt implements session.Observer.
func (o *DeviceObserver) ReconnectAttempt(_ string, _ int, delay time.Duration) {
	o.c.reconnectsTotal.WithLabelValues(o.device).Inc()
	o.c.reconnectDelay.WithLabelValues(o.device).Set(delay.Seconds())
}

// CommandFinished implements dispatch.Observer. Commands are labelled by
// the attribute name only, keeping zone and input IDs out of the label set.
func (o *DeviceObserver) CommandFinished(path state.DevicePath, outcome dispatch.Outcome, latency time.Duration) {
	o.c.commandsTotal.WithLabelValues(o.device, path.Base(), string(outcome)).Inc()
	o.c.commandDuration.WithLabelValues(o.device, string(outcome)).Observe(latency.Seconds())
}
