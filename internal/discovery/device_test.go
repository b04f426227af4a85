package discovery

import "testing"

func TestDevice_String(t *testing.T) {
	d := &Device{Name: "NAX-8ZSA-1A2B3C", Hostname: "nax-8zsa-1a2b3c.local.", IP: "192.168.4.16", Port: 443, Model: "NAX-8ZSA"}
	want := "NAX-8ZSA NAX-8ZSA-1A2B3C (nax-8zsa-1a2b3c.local.) at 192.168.4.16:443"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	v6 := &Device{Name: "x", Hostname: "x.local.", IP: "fe80::1", Port: 80}
	if got := v6.String(); got != "NAX x (x.local.) at [fe80::1]:80" {
		t.Errorf("String() = %q", got)
	}
}

func TestDevice_Host(t *testing.T) {
	if got := (&Device{IP: "10.0.0.5", Hostname: "nax.local."}).Host(); got != "10.0.0.5" {
		t.Errorf("Host() = %q", got)
	}
	if got := (&Device{Hostname: "nax.local."}).Host(); got != "nax.local" {
		t.Errorf("Host() without IP = %q", got)
	}
}

func TestDevice_ConfigName(t *testing.T) {
	tests := map[string]string{
		"NAX-8ZSA-1A2B3C": "nax-8zsa-1a2b3c",
		"Lounge Amp":      "lounge-amp",
		"  Patio  (2) ":   "patio-2",
		"!!!":             "nax",
	}
	for in, want := range tests {
		if got := (&Device{Name: in}).ConfigName(); got != want {
			t.Errorf("ConfigName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDevice_matches(t *testing.T) {
	d := &Device{Name: "NAX-8ZSA-1A2B3C", Hostname: "nax-8zsa-1a2b3c.local.", IP: "192.168.4.16"}
	for _, ref := range []string{"NAX-8ZSA-1A2B3C", "nax-8zsa-1a2b3c", "nax-8zsa-1a2b3c.local", "nax-8zsa-1a2b3c.local.", "192.168.4.16"} {
		if !d.matches(ref) {
			t.Errorf("matches(%q) = false", ref)
		}
	}
	if d.matches("192.168.4.17") {
		t.Error("matches() on another IP")
	}
}

func TestDevice_GetMetadata(t *testing.T) {
	d := &Device{Metadata: map[string]string{"fw": "3.1"}}
	if d.GetMetadata("fw") != "3.1" || d.GetMetadata("missing") != "" {
		t.Errorf("GetMetadata() = %q/%q", d.GetMetadata("fw"), d.GetMetadata("missing"))
	}
	if (&Device{}).GetMetadata("fw") != "" {
		t.Error("GetMetadata() with nil map")
	}
}
