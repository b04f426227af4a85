package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

const (
	// DefaultTimeout is the per-command wait for confirmation.
	DefaultTimeout = 5 * time.Second

	tracerName = "github.com/jetsoncontrols/ha-nax/internal/dispatch"

	// maxAwaiting bounds the per-path backlog of sent commands whose
	// Actions result has not arrived yet.
	maxAwaiting = 16
)

// BusyPolicy decides what happens when a command targets a path that
// already has one outstanding.
type BusyPolicy int

const (
	// FailFast rejects the new command with a Busy error.
	FailFast BusyPolicy = iota
	// Supersede fails the outstanding command with Superseded and sends
	// the new one.
	Supersede
)

func (p BusyPolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Supersede:
		return "supersede"
	default:
		return fmt.Sprintf("BusyPolicy(%d)", int(p))
	}
}

// ParseBusyPolicy parses "fail-fast" or "supersede". Empty means FailFast.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast", "failfast":
		return FailFast, nil
	case "supersede":
		return Supersede, nil
	default:
		return FailFast, fmt.Errorf("unknown busy policy %q (use fail-fast or supersede)", s)
	}
}

// Sender writes an encoded frame to the device. *transport.Conn
// implements it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Outcome labels how a dispatch ended.
type Outcome string

// Dispatch outcomes, also used as metric and span labels.
const (
	OutcomeEcho       Outcome = "echo"
	OutcomeState      Outcome = "state"
	OutcomeRejected   Outcome = "rejected"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeNotConn    Outcome = "not_connected"
	OutcomeBusy       Outcome = "busy"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSendFailed Outcome = "send_failed"
)

// Result describes a confirmed command.
type Result struct {
	Path    state.DevicePath
	Value   state.Value
	Seq     uint64
	Latency time.Duration
	Outcome Outcome
}

// Observer is notified of every finished dispatch.
type Observer interface {
	CommandFinished(path state.DevicePath, outcome Outcome, latency time.Duration)
}

// Config configures a Dispatcher.
type Config struct {
	Timeout  time.Duration
	Policy   BusyPolicy
	Tracer   trace.Tracer
	Observer Observer
}

type resolution struct {
	err     error
	outcome Outcome
}

type pendingCommand struct {
	seq     uint64
	path    state.DevicePath
	value   state.Value
	started time.Time
	done    chan resolution
}

// Dispatcher correlates outbound commands with device confirmations.
// At most one command per path is outstanding.
//
// The device answers every set with one Actions result, in the order the
// sets were written. awaiting keeps, per path, the sequence numbers still
// owed a result; a result belongs to the oldest of them, even when that
// command already finished by state, timed out or was superseded.
type Dispatcher struct {
	encoder *protocol.Encoder
	cfg     Config
	tracer  trace.Tracer

	// sendMu keeps the awaiting order identical to the wire order.
	sendMu sync.Mutex

	mu       sync.Mutex
	sender   Sender
	pending  map[state.DevicePath]*pendingCommand
	awaiting map[state.DevicePath][]uint64
	seq      uint64
}

// New creates a Dispatcher. Commands fail with NotConnected until Attach.
func New(encoder *protocol.Encoder, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		encoder: encoder,
		cfg:     cfg,
		tracer:  tracer,
		pending:  make(map[state.DevicePath]*pendingCommand),
		awaiting: make(map[state.DevicePath][]uint64),
	}
}

// Attach sets the sender used for new commands.
func (d *Dispatcher) Attach(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// Detach stops sending and fails every outstanding command with err, or
// NotConnected when err is nil.
func (d *Dispatcher) Detach(err error) {
	if err == nil {
		err = naxerr.NewNotConnectedError("connection to device lost")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = nil
	clear(d.awaiting)
	for path, p := range d.pending {
		delete(d.pending, path)
		p.done <- resolution{err: err, outcome: OutcomeNotConn}
	}
}

// Pending returns the number of outstanding commands.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Dispatch validates, sends and waits for confirmation of cmd. It returns
// once the device confirms by echo or by reporting the commanded value,
// or fails with Timeout, DeviceRejected, InvalidCommand, NotConnected,
// Busy or Superseded.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "nax.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("nax.path", cmd.Path.String())))
	defer span.End()

	start := time.Now()
	res, err := d.dispatch(ctx, cmd, span)
	res.Latency = time.Since(start)

	span.SetAttributes(
		attribute.String("nax.outcome", string(res.Outcome)),
		attribute.Int64("nax.seq", int64(res.Seq)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer.CommandFinished(cmd.Path, res.Outcome, res.Latency)
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd protocol.Command, span trace.Span) (Result, error) {
	res := Result{Path: cmd.Path}

	payload, value, err := d.encoder.Encode(cmd)
	if err != nil {
		res.Outcome = OutcomeInvalid
		return res, err
	}
	res.Value = value
	span.SetAttributes(attribute.String("nax.value", value.String()))

	d.sendMu.Lock()
	p, sender, err := d.register(cmd.Path, value)
	if err != nil {
		d.sendMu.Unlock()
		res.Outcome = outcomeOf(err)
		return res, err
	}
	res.Seq = p.seq

	err = sender.Send(ctx, payload)
	d.sendMu.Unlock()
	if err != nil {
		d.remove(p)
		d.forget(p)
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			return res, ctx.Err()
		}
		res.Outcome = OutcomeSendFailed
		return res, fmt.Errorf("failed to send command: %w", err)
	}

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		res.Outcome = r.outcome
		return res, r.err
	case <-timer.C:
		if d.remove(p) {
			logging.Debug("Command timed out",
				zap.String("path", cmd.Path.String()),
				zap.Uint64("seq", p.seq),
				zap.Duration("timeout", d.cfg.Timeout))
			res.Outcome = OutcomeTimeout
			return res, naxerr.NewTimeoutError(cmd.Path.String(),
				fmt.Sprintf("no confirmation within %s", d.cfg.Timeout))
		}
		r := <-p.done
		res.Outcome = r.outcome
		return res, r.err
	case <-ctx.Done():
		if d.remove(p) {
			res.Outcome = OutcomeCancelled
			return res, ctx.Err()
		}
		r := <-p.done
		res.Outcome = r.outcome
		return res, r.err
	}
}

func outcomeOf(err error) Outcome {
	switch naxerr.KindOf(err) {
	case naxerr.KindBusy:
		return OutcomeBusy
	case naxerr.KindNotConnected:
		return OutcomeNotConn
	case naxerr.KindSuperseded:
		return OutcomeSuperseded
	case naxerr.KindDeviceRejected:
		return OutcomeRejected
	case naxerr.KindTimeout:
		return OutcomeTimeout
	}
	return OutcomeSendFailed
}

func (d *Dispatcher) register(path state.DevicePath, value state.Value) (*pendingCommand, Sender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sender == nil {
		return nil, nil, naxerr.NewNotConnectedError("device is not connected")
	}
	if prev, busy := d.pending[path]; busy {
		if d.cfg.Policy == FailFast {
			return nil, nil, naxerr.NewBusyError(path.String())
		}
		delete(d.pending, path)
		prev.done <- resolution{err: naxerr.NewSupersededError(path.String()), outcome: OutcomeSuperseded}
	}

	d.seq++
	p := &pendingCommand{
		seq:     d.seq,
		path:    path,
		value:   value,
		started: time.Now(),
		done:    make(chan resolution, 1),
	}
	d.pending[path] = p

	queue := append(d.awaiting[path], p.seq)
	if len(queue) > maxAwaiting {
		queue = queue[len(queue)-maxAwaiting:]
	}
	d.awaiting[path] = queue
	return p, d.sender, nil
}

// forget drops p from the awaiting queue of its path. Used when the frame
// was never written.
func (d *Dispatcher) forget(p *pendingCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.awaiting[p.path]
	for i, seq := range queue {
		if seq == p.seq {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(d.awaiting, p.path)
	} else {
		d.awaiting[p.path] = queue
	}
}

// nextAwaiting pops the oldest sequence number still owed a result for
// path. Called with mu held.
func (d *Dispatcher) nextAwaiting(path state.DevicePath) (uint64, bool) {
	queue := d.awaiting[path]
	if len(queue) == 0 {
		return 0, false
	}
	seq := queue[0]
	if len(queue) == 1 {
		delete(d.awaiting, path)
	} else {
		d.awaiting[path] = queue[1:]
	}
	return seq, true
}

// remove drops p if it is still the outstanding command for its path.
// It reports whether p was removed; false means it was already resolved.
func (d *Dispatcher) remove(p *pendingCommand) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.pending[p.path]; ok && cur.seq == p.seq {
		delete(d.pending, p.path)
		return true
	}
	return false
}

// resolve completes the outstanding command for path. Called with mu held.
func (d *Dispatcher) resolve(path state.DevicePath, r resolution) {
	p, ok := d.pending[path]
	if !ok {
		return
	}
	delete(d.pending, path)
	p.done <- r
}

// Observe feeds a decoded event to the dispatcher. The session calls it
// after the event has been applied to the store.
func (d *Dispatcher) Observe(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.CommandEcho:
		d.mu.Lock()
		var r resolution
		if e.OK {
			r = resolution{outcome: OutcomeEcho}
		} else {
			r = resolution{
				err:     naxerr.NewDeviceRejectedError(e.Path.String(), e.StatusInfo),
				outcome: OutcomeRejected,
			}
		}
		seq, owed := d.nextAwaiting(e.Path)
		p, pending := d.pending[e.Path]
		current := owed && pending && p.seq == seq
		if current {
			d.resolve(e.Path, r)
		}
		d.mu.Unlock()
		if !current {
			logging.Debug("Discarding echo for a finished command",
				zap.String("path", e.Path.String()),
				zap.Uint64("seq", seq),
				zap.Bool("ok", e.OK),
				zap.String("status_info", e.StatusInfo))
		}

	case protocol.StateUpdate:
		d.mu.Lock()
		if p, ok := d.pending[e.Path]; ok && p.value.Equal(e.Value) {
			d.resolve(e.Path, resolution{outcome: OutcomeState})
		}
		d.mu.Unlock()
	}
}
