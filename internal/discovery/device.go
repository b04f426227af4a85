package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Device is a NAX found on the local network.
type Device struct {
	// Name is the mDNS instance name, e.g. "NAX-8ZSA-1A2B3C".
	Name string

	// Hostname is the advertised host, e.g. "nax-8zsa-1a2b3c.local.".
	Hostname string

	// IP prefers IPv4.
	IP string

	// Port is the advertised service port. The CresNext WebSocket is
	// always on 443; this is informational.
	Port int

	// Model comes from TXT metadata or the hostname prefix.
	Model string

	// Service is the service type that answered, e.g. "_crestron._tcp".
	Service string

	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description.
func (d *Device) String() string {
	model := d.Model
	if model == "" {
		model = "NAX"
	}
	return fmt.Sprintf("%s %s (%s) at %s", model, d.Name, d.Hostname, net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
}

// Host is what to put in nax.Config.Host: the IP, or the hostname
// without its trailing dot when no address was seen.
func (d *Device) Host() string {
	if d.IP != "" {
		return d.IP
	}
	return strings.TrimSuffix(d.Hostname, ".")
}

// ConfigName suggests a registry key: the instance name lower-cased with
// runs of non-alphanumerics folded to "-".
func (d *Device) ConfigName() string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(d.Name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		return "nax"
	}
	return name
}

// GetMetadata returns a TXT value, or "".
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}
