package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/transport"
)

// DefaultMaxBuffer bounds how much partial JSON the Decoder keeps while
// waiting for an object to complete.
const DefaultMaxBuffer = 4 << 20

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDropUnknown discards leaves that match no declared attribute instead
// of passing them through as opaque values.
func WithDropUnknown(drop bool) DecoderOption {
	return func(d *Decoder) { d.dropUnknown = drop }
}

// WithMaxBuffer sets the partial-object buffer limit in bytes.
func WithMaxBuffer(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxBuffer = n
		}
	}
}

// DecoderStats counts what a Decoder has seen.
type DecoderStats struct {
	Objects    uint64
	Updates    uint64
	Echoes     uint64
	Malformed  uint64
	Mismatched uint64
	Unknown    uint64
}

// Decoder turns inbound frames into events. It keeps partial objects
// between calls, so use one Decoder per connection and call Decode from
// a single goroutine.
type Decoder struct {
	schema      *Schema
	dropUnknown bool
	maxBuffer   int

	buf      []byte
	expected []state.DevicePath

	objects    atomic.Uint64
	updates    atomic.Uint64
	echoes     atomic.Uint64
	malformed  atomic.Uint64
	mismatched atomic.Uint64
	unknown    atomic.Uint64
}

// NewDecoder creates a Decoder for schema.
func NewDecoder(schema *Schema, opts ...DecoderOption) *Decoder {
	d := &Decoder{schema: schema, maxBuffer: DefaultMaxBuffer}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Expect arms a SubscriptionAck for root. The ack is emitted once, after
// the first update at or beneath root.
func (d *Decoder) Expect(root state.DevicePath) {
	d.expected = append(d.expected, root)
}

// Reset discards buffered partial input and pending acks.
func (d *Decoder) Reset() {
	d.buf = nil
	d.expected = nil
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Objects:    d.objects.Load(),
		Updates:    d.updates.Load(),
		Echoes:     d.echoes.Load(),
		Malformed:  d.malformed.Load(),
		Mismatched: d.mismatched.Load(),
		Unknown:    d.unknown.Load(),
	}
}

// Decode consumes one frame. Events decoded from complete objects are
// returned even when part of the input was malformed; in that case err is
// a MalformedFrameError and the broken input has been discarded.
func (d *Decoder) Decode(f transport.Frame) ([]Event, error) {
	if f.Kind == transport.FrameHeartbeat {
		return []Event{Heartbeat{At: f.At}}, nil
	}

	frameStart := len(d.buf)
	d.buf = append(d.buf, f.Data...)

	var events []Event
	var firstErr error
	fail := func(err error) {
		d.malformed.Add(1)
		if firstErr == nil {
			firstErr = err
		}
	}

	for {
		before := len(d.buf)
		d.buf = bytes.TrimLeft(d.buf, " \t\r\n")
		frameStart = max(frameStart-(before-len(d.buf)), 0)
		if len(d.buf) == 0 {
			d.buf = nil
			break
		}

		dec := json.NewDecoder(bytes.NewReader(d.buf))
		dec.UseNumber()
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == nil {
			n := int(dec.InputOffset())
			evs, objErr := d.object(raw)
			events = append(events, evs...)
			if objErr != nil {
				fail(objErr)
			}
			d.buf = d.buf[n:]
			frameStart = max(frameStart-n, 0)
			continue
		}

		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			if frameStart > 0 && frameStart < len(d.buf) && startsMessage(d.buf[frameStart:]) {
				// This frame opens a complete message of its own, so the
				// leftover was a truncated frame rather than the head of
				// a split one.
				d.buf = d.buf[frameStart:]
				frameStart = 0
				fail(naxerr.NewMalformedFrameError("truncated object discarded", err))
				continue
			}
			if len(d.buf) > d.maxBuffer {
				d.buf = nil
				fail(naxerr.NewMalformedFrameError(
					fmt.Sprintf("partial object exceeds %d bytes", d.maxBuffer), err))
			}
			break
		}

		if frameStart > 0 && frameStart < len(d.buf) {
			// Leftover from earlier frames never completed. Drop it and
			// resynchronize at the start of this frame.
			d.buf = d.buf[frameStart:]
			frameStart = 0
			fail(naxerr.NewMalformedFrameError("incomplete object discarded", err))
			continue
		}
		d.buf = nil
		fail(naxerr.NewMalformedFrameError("invalid JSON frame", err))
		break
	}

	if firstErr != nil {
		logging.Debug("Discarded malformed input",
			zap.Error(firstErr),
			zap.Int("buffered", len(d.buf)))
	}
	return events, firstErr
}

// startsMessage reports whether data begins with a complete top-level
// Device or Actions object.
func startsMessage(data []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	var top map[string]json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return false
	}
	_, device := top["Device"]
	_, actions := top["Actions"]
	return device || actions
}

// object decodes one complete top-level JSON value.
func (d *Decoder) object(raw json.RawMessage) ([]Event, error) {
	d.objects.Add(1)
	if len(raw) == 0 || raw[0] != '{' {
		logging.Debug("Ignoring non-object frame", zap.ByteString("data", raw))
		return nil, nil
	}

	var envelope struct {
		Actions *json.RawMessage `json:"Actions"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, naxerr.NewMalformedFrameError("invalid object", err)
	}
	if envelope.Actions != nil {
		return d.actions(*envelope.Actions)
	}

	var events []Event
	if err := d.flatten(raw, state.Root, &events); err != nil {
		return events, naxerr.NewMalformedFrameError("invalid object", err)
	}
	return d.acks(events), nil
}

type actionResult struct {
	Path       string `json:"Path"`
	Property   string `json:"Property"`
	StatusID   int    `json:"StatusId"`
	StatusInfo string `json:"StatusInfo"`
}

func (d *Decoder) actions(raw json.RawMessage) ([]Event, error) {
	var actions []struct {
		Results []actionResult `json:"Results"`
	}
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, naxerr.NewMalformedFrameError("invalid Actions envelope", err)
	}
	var events []Event
	for _, a := range actions {
		for _, r := range a.Results {
			p := resultPath(r.Path, r.Property)
			ok := r.StatusInfo == "OK"
			if !ok {
				logging.Warn("Device rejected command",
					zap.String("path", p.String()),
					zap.Int("status_id", r.StatusID),
					zap.String("status_info", r.StatusInfo))
			}
			d.echoes.Add(1)
			events = append(events, CommandEcho{
				Path:       p,
				OK:         ok,
				StatusID:   r.StatusID,
				StatusInfo: r.StatusInfo,
			})
		}
	}
	return events, nil
}

// resultPath accepts both slash and dotted result paths.
func resultPath(path, property string) state.DevicePath {
	if !strings.Contains(path, "/") && strings.Contains(path, ".") {
		path = strings.ReplaceAll(path, ".", "/")
	}
	return state.Join(path, property)
}

// flatten walks an object in document order and emits one StateUpdate
// per leaf. Arrays and null are leaves.
func (d *Decoder) flatten(raw json.RawMessage, at state.DevicePath, out *[]Event) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var child json.RawMessage
		if err := dec.Decode(&child); err != nil {
			return err
		}
		if key == "" {
			continue
		}
		p := at.Child(key)
		if len(child) > 0 && child[0] == '{' {
			if err := d.flatten(child, p, out); err != nil {
				return err
			}
			continue
		}
		if v, ok := d.leaf(p, child); ok {
			d.updates.Add(1)
			*out = append(*out, StateUpdate{Path: p, Value: v})
		}
	}
	return nil
}

func (d *Decoder) leaf(p state.DevicePath, raw json.RawMessage) (state.Value, bool) {
	attr, declared := d.schema.Lookup(p)
	if !declared {
		d.unknown.Add(1)
		if d.dropUnknown {
			return state.Value{}, false
		}
		return state.Opaque(raw), true
	}

	v, err := convert(attr.Kind, raw)
	if err != nil {
		d.mismatched.Add(1)
		logging.Debug("Dropping update with unexpected type",
			zap.String("path", p.String()),
			zap.String("declared", attr.Kind.String()),
			zap.ByteString("raw", raw),
			zap.Error(err))
		return state.Value{}, false
	}
	return v, true
}

func convert(kind state.Kind, raw json.RawMessage) (state.Value, error) {
	if kind == state.KindOpaque {
		return state.Opaque(raw), nil
	}
	if len(raw) == 0 {
		return state.Value{}, errors.New("empty value")
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return state.Value{}, err
		}
		switch kind {
		case state.KindString:
			return state.String(s), nil
		case state.KindEnum:
			return state.Enum(s), nil
		}
	case c == 't' || c == 'f':
		if kind == state.KindBool {
			return state.Bool(c == 't'), nil
		}
	case c == '-' || (c >= '0' && c <= '9'):
		if kind != state.KindInt && kind != state.KindFloat {
			break
		}
		n := json.Number(raw)
		if kind == state.KindInt {
			if i, err := n.Int64(); err == nil {
				return state.Int(i), nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return state.Value{}, err
		}
		v := state.Float(f)
		if i, ok := v.AsInt(); ok && kind == state.KindInt {
			return state.Int(i), nil
		}
		return v, nil
	}
	return state.Value{}, fmt.Errorf("JSON %s does not fit %s", jsonType(raw), kind)
}

func jsonType(raw json.RawMessage) string {
	switch raw[0] {
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	case '[':
		return "array"
	case '{':
		return "object"
	default:
		return "number"
	}
}

// acks appends a SubscriptionAck for each expected root that events touch.
func (d *Decoder) acks(events []Event) []Event {
	if len(d.expected) == 0 || len(events) == 0 {
		return events
	}
	remaining := d.expected[:0]
	var acked []Event
	for _, root := range d.expected {
		hit := false
		for _, ev := range events {
			if u, ok := ev.(StateUpdate); ok && u.Path.HasPrefix(root) {
				hit = true
				break
			}
		}
		if hit {
			acked = append(acked, SubscriptionAck{Root: root})
		} else {
			remaining = append(remaining, root)
		}
	}
	d.expected = remaining
	return append(events, acked...)
}
