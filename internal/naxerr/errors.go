package naxerr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// Kind represents the category of error that occurred
type Kind int

const (
	// KindNetwork indicates a transport-level failure (refused, reset, unreachable).
	// Always retried by the session's reconnect logic.
	KindNetwork Kind = iota
	// KindAuth indicates the device rejected the credentials. Fatal for
	// the current credential set.
	KindAuth
	// KindTLS indicates a TLS handshake or certificate failure. Fatal.
	KindTLS
	// KindMalformedFrame indicates an inbound frame that could not be decoded.
	// The frame is dropped and the session continues.
	KindMalformedFrame
	// KindInvalidCommand indicates local validation rejected a command
	// before anything was sent.
	KindInvalidCommand
	// KindTimeout indicates a command or handshake exceeded its deadline.
	KindTimeout
	// KindDeviceRejected indicates the device explicitly NACKed a command.
	KindDeviceRejected
	// KindNotConnected indicates a command was issued while the session
	// was not in the Connected state.
	KindNotConnected
	// KindBusy indicates another command to the same path is still pending.
	KindBusy
	// KindSuperseded indicates a pending command was replaced by a newer one.
	KindSuperseded
	// KindUnavailable indicates the session gave up reconnecting.
	KindUnavailable
	// KindUnknown indicates an unclassified error.
	KindUnknown
)

// String returns a human-readable name for the error kind
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network Error"
	case KindAuth:
		return "Authentication Error"
	case KindTLS:
		return "TLS Error"
	case KindMalformedFrame:
		return "Malformed Frame"
	case KindInvalidCommand:
		return "Invalid Command"
	case KindTimeout:
		return "Timeout"
	case KindDeviceRejected:
		return "Device Rejected"
	case KindNotConnected:
		return "Not Connected"
	case KindBusy:
		return "Busy"
	case KindSuperseded:
		return "Superseded"
	case KindUnavailable:
		return "Unavailable"
	case KindUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error is the error type returned by every layer of the client.
type Error struct {
	Kind       Kind   // Category of error
	Message    string // Human-readable error message
	Path       string // Device path involved (commands, frames)
	Host       string // Device host (for context)
	StatusCode int    // HTTP status code (login failures)
	Err        error  // Underlying error (if any)
	Retryable  bool   // Whether the session should retry
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Path != "" {
		b.WriteString(" [")
		b.WriteString(e.Path)
		b.WriteString("]")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Path == ""
}

// Classify analyzes a transport error and returns a classified *Error.
// An error that is already an *Error is returned unchanged.
func Classify(err error, host string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	if tlsErr := classifyTLS(err, host); tlsErr != nil {
		return tlsErr
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &Error{
			Kind:      KindTimeout,
			Message:   "operation timed out",
			Host:      host,
			Err:       err,
			Retryable: true,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Kind:      KindNetwork,
			Message:   fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Host:      host,
			Err:       err,
			Retryable: true,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		msg := "network error occurred"
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			msg = "device refused connection"
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			msg = "host unreachable"
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			msg = "network unreachable"
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			msg = "connection reset by device"
		}
		return &Error{
			Kind:      KindNetwork,
			Message:   msg,
			Host:      host,
			Err:       err,
			Retryable: true,
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return Classify(urlErr.Err, host)
	}

	return &Error{
		Kind:      KindNetwork,
		Message:   "network error occurred",
		Host:      host,
		Err:       err,
		Retryable: true,
	}
}

func classifyTLS(err error, host string) *Error {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		certErr     x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &certErr):
		return NewTLSError("certificate verification failed", err)
	case errors.As(err, &recordErr):
		return NewTLSError("device did not speak TLS", err)
	}
	if strings.Contains(err.Error(), "tls: ") {
		return NewTLSError("TLS handshake failed", err)
	}
	return nil
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message string, err error) *Error {
	if err != nil {
		classified := Classify(err, "")
		if classified.Kind == KindNetwork || classified.Kind == KindTimeout {
			return &Error{
				Kind:      KindNetwork,
				Message:   message,
				Err:       err,
				Retryable: true,
			}
		}
		return classified
	}
	return &Error{
		Kind:      KindNetwork,
		Message:   message,
		Retryable: true,
	}
}

// NewAuthError creates an authentication error
func NewAuthError(message string, statusCode int) *Error {
	if statusCode == 0 {
		statusCode = http.StatusUnauthorized
	}
	return &Error{
		Kind:       KindAuth,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewTLSError creates a TLS error
func NewTLSError(message string, err error) *Error {
	return &Error{
		Kind:    KindTLS,
		Message: message,
		Err:     err,
	}
}

// NewMalformedFrameError creates a decode error for one inbound frame
func NewMalformedFrameError(message string, err error) *Error {
	return &Error{
		Kind:    KindMalformedFrame,
		Message: message,
		Err:     err,
	}
}

// NewInvalidCommandError creates a local validation error
func NewInvalidCommandError(path, message string) *Error {
	return &Error{
		Kind:    KindInvalidCommand,
		Message: message,
		Path:    path,
	}
}

// NewTimeoutError creates a per-command timeout error
func NewTimeoutError(path, message string) *Error {
	return &Error{
		Kind:      KindTimeout,
		Message:   message,
		Path:      path,
		Retryable: true,
	}
}

// NewDeviceRejectedError creates an error for an explicit device NACK
func NewDeviceRejectedError(path, statusInfo string) *Error {
	return &Error{
		Kind:    KindDeviceRejected,
		Message: statusInfo,
		Path:    path,
	}
}

// NewNotConnectedError creates an error for commands issued while disconnected
func NewNotConnectedError(message string) *Error {
	return &Error{
		Kind:      KindNotConnected,
		Message:   message,
		Retryable: true,
	}
}

// NewBusyError creates an error for a path with an outstanding command
func NewBusyError(path string) *Error {
	return &Error{
		Kind:      KindBusy,
		Message:   "a command for this path is still pending",
		Path:      path,
		Retryable: true,
	}
}

// NewSupersededError creates the synthetic failure for a replaced command
func NewSupersededError(path string) *Error {
	return &Error{
		Kind:    KindSuperseded,
		Message: "replaced by a newer command",
		Path:    path,
	}
}

// NewUnavailableError creates the terminal error after reconnects are exhausted
func NewUnavailableError(message string, err error) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func isKind(err error, kinds ...Kind) bool {
	k := KindOf(err)
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// IsNetwork checks if an error is a network or transport timeout error
func IsNetwork(err error) bool { return isKind(err, KindNetwork) }

// IsAuth checks if an error is an authentication error
func IsAuth(err error) bool { return isKind(err, KindAuth) }

// IsTLS checks if an error is a TLS error
func IsTLS(err error) bool { return isKind(err, KindTLS) }

// IsMalformedFrame checks if an error is a frame decode error
func IsMalformedFrame(err error) bool { return isKind(err, KindMalformedFrame) }

// IsInvalidCommand checks if an error is a local validation error
func IsInvalidCommand(err error) bool { return isKind(err, KindInvalidCommand) }

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsDeviceRejected checks if the device NACKed a command
func IsDeviceRejected(err error) bool { return isKind(err, KindDeviceRejected) }

// IsNotConnected checks if a command failed because the session was down
func IsNotConnected(err error) bool { return isKind(err, KindNotConnected) }

// IsBusy checks if a command failed the fail-fast busy policy
func IsBusy(err error) bool { return isKind(err, KindBusy) }

// IsSuperseded checks if a command was replaced under the supersede policy
func IsSuperseded(err error) bool { return isKind(err, KindSuperseded) }

// IsUnavailable checks if the session gave up reconnecting
func IsUnavailable(err error) bool { return isKind(err, KindUnavailable) }

// IsFatal reports whether a session-level error must stop reconnection.
func IsFatal(err error) bool { return isKind(err, KindAuth, KindTLS, KindUnavailable) }

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}

// Hint returns user-facing troubleshooting advice for an error
func Hint(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "An unexpected error occurred. Please try again."
	}

	switch e.Kind {
	case KindAuth:
		return strings.Join([]string{
			"The device rejected the login.",
			"Troubleshooting:",
			"  • Check the username and password configured for this device",
			"  • Confirm the account can log in through the device web UI",
			"  • Repeated failures may lock the account for a few minutes",
		}, "\n")
	case KindTLS:
		return strings.Join([]string{
			"The TLS handshake with the device failed.",
			"Troubleshooting:",
			"  • NAX devices ship self-signed certificates; disable verify_tls",
			"    or add the device certificate to the trusted roots",
			"  • Check that the port is the device's HTTPS port (default 443)",
		}, "\n")
	case KindNetwork, KindTimeout:
		return strings.Join([]string{
			"The device could not be reached.",
			"Troubleshooting:",
			"  • Verify the device IP address or hostname",
			"  • Check that the device is powered and on the same network",
			"  • Try `naxctl discover` to locate devices via mDNS",
		}, "\n")
	case KindInvalidCommand:
		return "The command value is outside what the device accepts. Check the error message for details."
	case KindDeviceRejected:
		return "The device refused the command. The path may be read-only on this model."
	case KindNotConnected:
		return "The client is not connected to the device. Wait for reconnection and retry."
	case KindUnavailable:
		return "The client gave up reconnecting. Restart it once the device is reachable."
	default:
		return "An error occurred. Please check the error message for details."
	}
}
