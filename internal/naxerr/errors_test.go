package naxerr

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
)

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
		wantMsg   string
	}{
		{
			name: "timeout inside url error",
			err: &url.Error{Op: "Get", URL: "https://10.0.0.5/userlogin.html",
				Err: &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutError{}}},
			wantKind:  KindTimeout,
			retryable: true,
		},
		{
			name:      "context deadline",
			err:       fmt.Errorf("dial: %w", context.DeadlineExceeded),
			wantKind:  KindTimeout,
			retryable: true,
		},
		{
			name:      "connection refused",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			wantKind:  KindNetwork,
			retryable: true,
			wantMsg:   "refused",
		},
		{
			name:      "connection reset",
			err:       &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			wantKind:  KindNetwork,
			retryable: true,
			wantMsg:   "reset",
		},
		{
			name:      "dns",
			err:       &net.DNSError{Err: "no such host", Name: "nax.invalid", IsNotFound: true},
			wantKind:  KindNetwork,
			retryable: true,
			wantMsg:   "nax.invalid",
		},
		{
			name:     "unknown authority",
			err:      &url.Error{Op: "Get", URL: "https://nax", Err: x509.UnknownAuthorityError{}},
			wantKind: KindTLS,
		},
		{
			name:     "already classified",
			err:      fmt.Errorf("login: %w", NewAuthError("bad password", 403)),
			wantKind: KindAuth,
		},
		{
			name:      "opaque error",
			err:       errors.New("boom"),
			wantKind:  KindNetwork,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "10.0.0.5")
			if got == nil {
				t.Fatal("Classify() returned nil")
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if tt.wantMsg != "" && !strings.Contains(got.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", got.Message, tt.wantMsg)
			}
		})
	}

	if Classify(nil, "") != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestPredicatesFollowWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch volume: %w", NewTimeoutError("/Device/X", "no echo"))

	if !IsTimeout(err) {
		t.Error("IsTimeout should see through fmt wrapping")
	}
	if IsNotConnected(err) {
		t.Error("IsNotConnected should be false")
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("foreign errors should be KindUnknown")
	}
	if !errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Error("errors.Is should match on kind")
	}
}

func TestIsFatal(t *testing.T) {
	fatal := []error{
		NewAuthError("nope", 0),
		NewTLSError("bad cert", nil),
		NewUnavailableError("gave up", nil),
	}
	for _, err := range fatal {
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false", err)
		}
	}
	if IsFatal(NewNetworkError("reset", nil)) {
		t.Error("network errors are not fatal")
	}
}

func TestErrorString(t *testing.T) {
	err := NewInvalidCommandError("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume", "101 outside 0..100")
	want := "Invalid Command: 101 outside 0..100 [/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if NewAuthError("x", 0).StatusCode != 401 {
		t.Error("auth error should default to 401")
	}
}

func TestHint(t *testing.T) {
	if !strings.Contains(Hint(NewTLSError("x", nil)), "verify_tls") {
		t.Error("TLS hint should mention verify_tls")
	}
	if !strings.Contains(Hint(errors.New("x")), "unexpected") {
		t.Error("foreign error hint should be generic")
	}
}
