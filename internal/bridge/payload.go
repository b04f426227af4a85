package bridge

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// ConnectionMessage is published on the connection topic.
type ConnectionMessage struct {
	State string    `json:"state"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// ResultMessage is published on the result topic for every command.
type ResultMessage struct {
	Path      string      `json:"path"`
	Value     any         `json:"value,omitempty"`
	OK        bool        `json:"ok"`
	Outcome   string      `json:"outcome,omitempty"`
	Error     string      `json:"error,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Seq       uint64      `json:"seq,omitempty"`
	LatencyMS int64       `json:"latency_ms"`
}

// encodeState renders a value as plain JSON: 55, true, "Input01".
func encodeState(v state.Value) ([]byte, error) {
	return json.Marshal(v)
}

// decodeCommand turns a command payload into the text form the client
// parses by attribute kind. Accepted: raw text (55, true, Input01), a
// JSON string ("Input01") or an object {"value": ...}.
func decodeCommand(payload []byte) string {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return ""
	}
	switch payload[0] {
	case '"':
		var s string
		if json.Unmarshal(payload, &s) == nil {
			return s
		}
	case '{':
		var obj struct {
			Value json.RawMessage `json:"value"`
		}
		if json.Unmarshal(payload, &obj) == nil && obj.Value != nil {
			return decodeCommand(obj.Value)
		}
	}
	return strings.TrimSpace(string(payload))
}

func connectionMessage(s session.State, err error, at time.Time) ConnectionMessage {
	msg := ConnectionMessage{State: s.String(), At: at.UTC()}
	if err != nil && s != session.Connected {
		msg.Error = err.Error()
	}
	return msg
}

func availability(s session.State) string {
	if s == session.Connected {
		return PayloadOnline
	}
	return PayloadOffline
}

func resultMessage(path string, res dispatch.Result, err error) ResultMessage {
	msg := ResultMessage{
		Path:      path,
		OK:        err == nil,
		Outcome:   string(res.Outcome),
		Seq:       res.Seq,
		LatencyMS: res.Latency.Milliseconds(),
	}
	if res.Path != "" {
		msg.Path = res.Path.String()
	}
	if err == nil {
		msg.Value = res.Value
		return msg
	}
	msg.Error = err.Error()
	msg.Kind = naxerr.KindOf(err).String()
	return msg
}
