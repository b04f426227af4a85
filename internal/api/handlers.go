package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

type connectionView struct {
	Host  string `json:"host"`
	State string `json:"state"`
	Stale bool   `json:"stale"`
	Error string `json:"error,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	dev := deviceFrom(r)
	view := connectionView{
		Host:  dev.Host(),
		State: dev.ConnectionState().String(),
		Stale: dev.Stale(),
	}
	if err := dev.LastError(); err != nil {
		view.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	deviceFrom(r).Reconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnect requested"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = protocol.DeviceRoot.String()
	}
	if err := deviceFrom(r).Refresh(r.Context(), path); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested", "path": path})
}

// wildcardPath reads the path after /state/. Device paths arrive without
// their leading slash.
func wildcardPath(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if raw == "Device" || strings.HasPrefix(raw, "Device/") {
		return "/" + raw
	}
	return raw
}

func (s *Server) handleListState(w http.ResponseWriter, r *http.Request) {
	dev := deviceFrom(r)
	prefix := state.Root
	if q := r.URL.Query().Get("prefix"); q != "" {
		p, err := protocol.ResolvePath(q)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		prefix = p
	}
	items := dev.Store().Walk(prefix)
	if items == nil {
		items = []state.AttributeValue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stale": dev.Stale(),
		"items": items,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	av, err := deviceFrom(r).GetState(wildcardPath(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

type setRequest struct {
	Value json.RawMessage `json:"value"`
}

type commandResponse struct {
	Path      string      `json:"path"`
	Value     state.Value `json:"value"`
	Seq       uint64      `json:"seq"`
	Outcome   string      `json:"outcome"`
	LatencyMS int64       `json:"latency_ms"`
}

// handleSetState dispatches {"value": ...} to the path and waits for the
// device to confirm. JSON strings are parsed by the attribute's kind, so
// "true" and true both work for a boolean.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	raw := bytes.TrimSpace(req.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		writeBadRequest(w, `body must be {"value": ...}`)
		return
	}

	dev := deviceFrom(r)
	path := wildcardPath(r)

	var (
		res dispatch.Result
		err error
	)
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		res, err = dev.SendText(r.Context(), path, text)
	} else {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if _, isObj := v.(map[string]any); isObj {
			v = json.RawMessage(raw)
		}
		res, err = dev.SendCommand(r.Context(), path, v)
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Path:      res.Path.String(),
		Value:     res.Value,
		Seq:       res.Seq,
		Outcome:   string(res.Outcome),
		LatencyMS: res.Latency.Milliseconds(),
	})
}

type zoneView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Volume         *int     `json:"volume,omitempty"`
	Muted          *bool    `json:"muted,omitempty"`
	Source         string   `json:"source"`
	On             bool     `json:"on"`
	Receiver       string   `json:"receiver,omitempty"`
	AES67Stream    string   `json:"aes67_stream,omitempty"`
	NightMode      string   `json:"night_mode,omitempty"`
	ToneProfile    string   `json:"tone_profile,omitempty"`
	SignalDetected bool     `json:"signal_detected"`
	Faults         []string `json:"faults,omitempty"`
}

func viewZone(z *nax.Zone) zoneView {
	v := zoneView{
		ID:             z.ID,
		Name:           z.Name(),
		Source:         z.Source(),
		On:             z.On(),
		Receiver:       z.Receiver(),
		AES67Stream:    z.AES67Stream(),
		NightMode:      z.NightMode(),
		ToneProfile:    z.ToneProfile(),
		SignalDetected: z.SignalDetected(),
		Faults:         z.Faults(),
	}
	if vol, ok := z.Volume(); ok {
		v.Volume = &vol
	}
	if m, ok := z.Muted(); ok {
		v.Muted = &m
	}
	return v
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := deviceFrom(r).Zones()
	out := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		out = append(out, viewZone(z))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z := deviceFrom(r).Zone(chi.URLParam(r, "zone"))
	if !z.Exists() {
		writeNotFound(w, "unknown zone "+chi.URLParam(r, "zone"))
		return
	}
	writeJSON(w, http.StatusOK, viewZone(z))
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceFrom(r).Inputs())
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceFrom(r).AES67Streams())
}

func (s *Server) handleChimes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceFrom(r).Chimes())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceFrom(r).DeviceInfo())
}
