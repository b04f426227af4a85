package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeRejected       = "device_rejected"
	ErrCodeTimeout        = "timeout"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeBusy           = "busy"
	ErrCodeUnavailable    = "unavailable"
)

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeDeviceError maps an engine error onto a status code by its kind.
func writeDeviceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := Error{Status: status, Code: code, Message: err.Error()}
	if naxerr.KindOf(err) != naxerr.KindUnknown {
		body.Hint = naxerr.Hint(err)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) (int, string) {
	if errors.Is(err, state.ErrNotFound) {
		return http.StatusNotFound, ErrCodeNotFound
	}
	switch naxerr.KindOf(err) {
	case naxerr.KindInvalidCommand:
		return http.StatusBadRequest, ErrCodeInvalidCommand
	case naxerr.KindDeviceRejected:
		return http.StatusUnprocessableEntity, ErrCodeRejected
	case naxerr.KindTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case naxerr.KindNotConnected:
		return http.StatusServiceUnavailable, ErrCodeNotConnected
	case naxerr.KindBusy, naxerr.KindSuperseded:
		return http.StatusConflict, ErrCodeBusy
	case naxerr.KindUnavailable, naxerr.KindAuth, naxerr.KindTLS, naxerr.KindNetwork:
		return http.StatusBadGateway, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
