package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

var volume = protocol.ZoneAudioPath("Zone01", protocol.AudioVolume)

// fakeSender records frames and optionally answers them.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	onSend func([]byte)
}

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, data)
	err, hook := f.err, f.onSend
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook(data)
	}
	return err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingObserver) CommandFinished(_ state.DevicePath, o Outcome, _ time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func newDispatcher(cfg Config) *Dispatcher {
	enc := protocol.NewEncoder(protocol.DefaultSchema(protocol.Range{Min: 0, Max: 100}), nil)
	return New(enc, cfg)
}

func waitPending(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.Pending() == n }, 2*time.Second, time.Millisecond)
}

func TestDispatch_EchoSuccess(t *testing.T) {
	obs := &recordingObserver{}
	d := newDispatcher(Config{Observer: obs})
	sender := &fakeSender{}
	sender.onSend = func([]byte) {
		go d.Observe(protocol.CommandEcho{Path: volume, OK: true, StatusInfo: "OK"})
	}
	d.Attach(sender)

	res, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(55)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEcho, res.Outcome)
	assert.Equal(t, uint64(1), res.Seq)
	assert.Equal(t, `{"Device":{"ZoneOutputs":{"Zones":{"Zone01":{"ZoneAudio":{"Volume":55}}}}}}`, string(sender.frames[0]))
	assert.Equal(t, []Outcome{OutcomeEcho}, obs.outcomes)
	assert.Zero(t, d.Pending())
}

func TestDispatch_StateUpdateConfirms(t *testing.T) {
	d := newDispatcher(Config{})
	sender := &fakeSender{}
	sender.onSend = func([]byte) {
		go func() {
			d.Observe(protocol.StateUpdate{Path: volume, Value: state.Int(40)})
			d.Observe(protocol.StateUpdate{Path: volume, Value: state.Int(55)})
		}()
	}
	d.Attach(sender)

	res, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(55)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeState, res.Outcome)
}

func TestDispatch_DeviceRejected(t *testing.T) {
	d := newDispatcher(Config{})
	sender := &fakeSender{}
	sender.onSend = func([]byte) {
		go d.Observe(protocol.CommandEcho{Path: volume, StatusID: 3, StatusInfo: "Value out of range"})
	}
	d.Attach(sender)

	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(55)})
	require.Error(t, err)
	assert.True(t, naxerr.IsDeviceRejected(err))
	assert.Contains(t, err.Error(), "Value out of range")
}

func TestDispatch_InvalidCommandNeverSends(t *testing.T) {
	d := newDispatcher(Config{})
	sender := &fakeSender{}
	d.Attach(sender)

	tests := []protocol.Command{
		{Path: volume, Value: state.Int(101)},
		{Path: protocol.ZoneAudioPath("Zone01", protocol.AudioNightMode), Value: state.String("Loud")},
		{Path: protocol.ZonePath("Zone01", protocol.ZoneName), Value: state.String("Den")},
	}
	for _, cmd := range tests {
		_, err := d.Dispatch(context.Background(), cmd)
		assert.True(t, naxerr.IsInvalidCommand(err), "%s: %v", cmd.Path, err)
	}
	assert.Zero(t, sender.count())
}

func TestDispatch_NotConnected(t *testing.T) {
	d := newDispatcher(Config{})
	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(10)})
	assert.True(t, naxerr.IsNotConnected(err))
}

func TestDispatch_TimeoutThenLateEchoIsIgnored(t *testing.T) {
	d := newDispatcher(Config{Timeout: 30 * time.Millisecond})
	d.Attach(&fakeSender{})

	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(60)})
	require.True(t, naxerr.IsTimeout(err), "got %v", err)
	assert.Zero(t, d.Pending())

	d.cfg.Timeout = 2 * time.Second
	second := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(61)})
		second <- err
	}()
	waitPending(t, d, 1)

	// The first command's result arrives late. It must not touch the second.
	d.Observe(protocol.CommandEcho{Path: volume, StatusID: 3, StatusInfo: "late reject"})
	assert.Equal(t, 1, d.Pending())
	select {
	case err := <-second:
		t.Fatalf("second command finished on the first command's result: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	d.Observe(protocol.CommandEcho{Path: volume, OK: true, StatusInfo: "OK"})
	assert.NoError(t, <-second)
	assert.Zero(t, d.Pending())
}

func TestDispatch_StateThenResultDoesNotConfirmNextCommand(t *testing.T) {
	d := newDispatcher(Config{Timeout: 2 * time.Second})
	d.Attach(&fakeSender{})

	first := make(chan Result, 1)
	go func() {
		res, _ := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(55)})
		first <- res
	}()
	waitPending(t, d, 1)
	d.Observe(protocol.StateUpdate{Path: volume, Value: state.Int(55)})
	assert.Equal(t, OutcomeState, (<-first).Outcome)

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(60)})
		second <- outcome{res, err}
	}()
	waitPending(t, d, 1)

	// Trailing result of the first set, then the device's answer to the second.
	d.Observe(protocol.CommandEcho{Path: volume, OK: true, StatusInfo: "OK"})
	assert.Equal(t, 1, d.Pending())
	d.Observe(protocol.CommandEcho{Path: volume, StatusID: 3, StatusInfo: "Rejected"})

	got := <-second
	require.Error(t, got.err)
	assert.True(t, naxerr.IsDeviceRejected(got.err), "got %v", got.err)
	assert.Equal(t, OutcomeRejected, got.res.Outcome)
}

func TestDispatch_UnsentCommandOwesNoResult(t *testing.T) {
	d := newDispatcher(Config{Timeout: 2 * time.Second})
	d.Attach(&fakeSender{err: naxerr.NewNetworkError("connection is closed", nil)})
	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
	require.Error(t, err)

	sender := &fakeSender{}
	sender.onSend = func([]byte) {
		go d.Observe(protocol.CommandEcho{Path: volume, OK: true, StatusInfo: "OK"})
	}
	d.Attach(sender)
	res, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(21)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEcho, res.Outcome)
}

func TestDispatch_BusyPolicies(t *testing.T) {
	t.Run("fail-fast", func(t *testing.T) {
		d := newDispatcher(Config{Timeout: time.Second})
		d.Attach(&fakeSender{})

		first := make(chan error, 1)
		go func() {
			_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
			first <- err
		}()
		waitPending(t, d, 1)

		_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(30)})
		assert.True(t, naxerr.IsBusy(err), "got %v", err)

		d.Observe(protocol.CommandEcho{Path: volume, OK: true})
		assert.NoError(t, <-first)
	})

	t.Run("supersede", func(t *testing.T) {
		d := newDispatcher(Config{Timeout: time.Second, Policy: Supersede})
		d.Attach(&fakeSender{})

		first := make(chan error, 1)
		go func() {
			_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
			first <- err
		}()
		waitPending(t, d, 1)

		second := make(chan error, 1)
		go func() {
			_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(30)})
			second <- err
		}()

		err := <-first
		assert.True(t, naxerr.IsSuperseded(err), "got %v", err)
		waitPending(t, d, 1)
		d.Observe(protocol.StateUpdate{Path: volume, Value: state.Int(30)})
		assert.NoError(t, <-second)
	})
}

func TestDispatch_DifferentPathsAreIndependent(t *testing.T) {
	d := newDispatcher(Config{Timeout: time.Second})
	d.Attach(&fakeSender{})
	mute := protocol.ZoneAudioPath("Zone01", protocol.AudioMuted)

	errs := make(chan error, 2)
	go func() {
		_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
		errs <- err
	}()
	go func() {
		_, err := d.Dispatch(context.Background(), protocol.Command{Path: mute, Value: state.Bool(true)})
		errs <- err
	}()
	waitPending(t, d, 2)

	d.Observe(protocol.CommandEcho{Path: mute, OK: true})
	d.Observe(protocol.CommandEcho{Path: volume, OK: true})
	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)
}

func TestDetach_FailsPendingWithNotConnected(t *testing.T) {
	d := newDispatcher(Config{Timeout: 5 * time.Second})
	d.Attach(&fakeSender{})

	errc := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
		errc <- err
	}()
	waitPending(t, d, 1)

	d.Detach(nil)
	select {
	case err := <-errc:
		assert.True(t, naxerr.IsNotConnected(err), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pending command not failed by Detach")
	}

	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
	assert.True(t, naxerr.IsNotConnected(err))
}

func TestDispatch_SendFailureRemovesPending(t *testing.T) {
	d := newDispatcher(Config{})
	d.Attach(&fakeSender{err: naxerr.NewNetworkError("connection is closed", nil)})

	_, err := d.Dispatch(context.Background(), protocol.Command{Path: volume, Value: state.Int(20)})
	require.Error(t, err)
	assert.True(t, naxerr.IsNetwork(err))
	assert.Zero(t, d.Pending())
}

func TestDispatch_ContextCancel(t *testing.T) {
	d := newDispatcher(Config{Timeout: 5 * time.Second})
	d.Attach(&fakeSender{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, protocol.Command{Path: volume, Value: state.Int(20)})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Zero(t, d.Pending())
}

func TestParseBusyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    BusyPolicy
		wantErr bool
	}{
		{"", FailFast, false},
		{"fail-fast", FailFast, false},
		{"Supersede", Supersede, false},
		{"queue", FailFast, true},
	}
	for _, tt := range tests {
		got, err := ParseBusyPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseBusyPolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}
