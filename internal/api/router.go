package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/session"
)

const ctxKeyDevice contextKey = "device"

// buildRouter mounts the device routes twice: unscoped for the default
// device and under /api/v1/devices/{device} for any configured one.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/devices", s.handleListDevices)

		r.Group(func(r chi.Router) {
			r.Use(s.defaultDevice)
			s.deviceRoutes(r)
		})
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Use(s.namedDevice)
			s.deviceRoutes(r)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func (s *Server) deviceRoutes(r chi.Router) {
	r.Get("/connection", s.handleConnection)
	r.Post("/reconnect", s.handleReconnect)
	r.Post("/refresh", s.handleRefresh)

	r.Get("/state", s.handleListState)
	r.Get("/state/*", s.handleGetState)
	r.Put("/state/*", s.handleSetState)

	r.Get("/zones", s.handleListZones)
	r.Get("/zones/{zone}", s.handleGetZone)
	r.Get("/inputs", s.handleInputs)
	r.Get("/streams", s.handleStreams)
	r.Get("/chimes", s.handleChimes)
	r.Get("/info", s.handleInfo)

	r.Get("/events", s.handleEvents)
}

func (s *Server) defaultDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.def == "" {
			writeBadRequest(w, "several devices are configured; use /api/v1/devices/{device}/...")
			return
		}
		next.ServeHTTP(w, withDevice(r, s.devices[s.def]))
	})
}

func (s *Server) namedDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "device")
		dev, ok := s.devices[name]
		if !ok {
			writeNotFound(w, "unknown device "+name)
			return
		}
		next.ServeHTTP(w, withDevice(r, dev))
	})
}

func withDevice(r *http.Request, dev *nax.Client) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxKeyDevice, dev))
}

func deviceFrom(r *http.Request) *nax.Client {
	dev, _ := r.Context().Value(ctxKeyDevice).(*nax.Client)
	return dev
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	devices := make(map[string]string, len(s.devices))
	status := "ok"
	for _, name := range s.names {
		st := s.devices[name].ConnectionState()
		devices[name] = st.String()
		if st != session.Connected {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"devices": devices,
	})
}

type deviceSummary struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	State   string `json:"state"`
	Default bool   `json:"default,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	out := make([]deviceSummary, 0, len(s.names))
	for _, name := range s.names {
		dev := s.devices[name]
		out = append(out, deviceSummary{
			Name:    name,
			Host:    dev.Host(),
			State:   dev.ConnectionState().String(),
			Default: name == s.def,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
