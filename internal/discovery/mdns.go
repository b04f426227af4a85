package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
)

const (
	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DefaultScanTimeout bounds a scan.
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is assumed when an entry advertises none.
	DefaultPort = 443
)

// ServiceTypes are browsed in parallel. Crestron firmware advertises the
// web UI over _http._tcp and, on newer builds, a _crestron._tcp record.
var ServiceTypes = []string{"_crestron._tcp", "_http._tcp"}

// modelPattern matches NAX model prefixes in hostnames and instance
// names, e.g. "NAX-8ZSA-1A2B3C" or "nax-16aio.local.".
var modelPattern = regexp.MustCompile(`(?i)^(nax-[0-9a-z]+)`)

// modelKeys are TXT keys that may carry the model.
var modelKeys = []string{"model", "md", "product"}

// Scanner discovers NAX devices over mDNS.
type Scanner struct {
	Timeout  time.Duration
	Services []string

	log *zap.Logger
}

// NewScanner returns a Scanner with the default timeout and services.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:  DefaultScanTimeout,
		Services: ServiceTypes,
		log:      logging.Named("discovery"),
	}
}

// Scan browses until the timeout or ctx ends and returns the devices
// seen, de-duplicated by address and sorted by name.
func (s *Scanner) Scan(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]*Device)
	)
	err := s.browse(ctx, func(d *Device) bool {
		mu.Lock()
		defer mu.Unlock()
		key := d.Host()
		if prev, ok := seen[key]; ok {
			merge(prev, d)
			return false
		}
		seen[key] = d
		s.log.Debug("found device", zap.String("name", d.Name), zap.String("host", key), zap.String("service", d.Service))
		return false
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]*Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.IP, b.IP))
	})
	return out, nil
}

// Find waits for a device whose name, hostname or IP matches ref.
func (s *Scanner) Find(ctx context.Context, ref string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Device, 1)
	err := s.browse(ctx, func(d *Device) bool {
		if !d.matches(ref) {
			return false
		}
		select {
		case found <- d:
		default:
		}
		cancel()
		return true
	})
	if err != nil {
		return nil, err
	}
	select {
	case d := <-found:
		return d, nil
	default:
		return nil, fmt.Errorf("device %q not found within %s", ref, s.Timeout)
	}
}

// browse runs one resolver per service type until ctx ends. fn may be
// called concurrently.
func (s *Scanner) browse(ctx context.Context, fn func(*Device) bool) error {
	services := s.Services
	if len(services) == 0 {
		services = ServiceTypes
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, service := range services {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return fmt.Errorf("failed to create mDNS resolver: %w", err)
		}
		entries := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				if d := parseServiceEntry(service, entry); d != nil {
					fn(d)
				}
			}
		}()

		if err := resolver.Browse(ctx, service, ServiceDomain, entries); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("browse %s: %w", service, err))
			mu.Unlock()
		}
	}

	<-ctx.Done()
	// The resolvers close their entry channels once ctx ends.
	wg.Wait()

	if len(errs) == len(services) {
		return fmt.Errorf("failed to browse for mDNS services: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		s.log.Warn("mDNS browse failed", zap.Error(err))
	}
	return nil
}

// parseServiceEntry turns an entry into a Device, or nil when it does not
// look like a NAX.
func parseServiceEntry(service string, entry *zeroconf.ServiceEntry) *Device {
	if entry == nil || entry.HostName == "" {
		return nil
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[strings.ToLower(key)] = value
	}

	model := modelFrom(entry, metadata)
	if model == "" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}
	name := entry.Instance
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(entry.HostName, "."), ".local")
	}

	return &Device{
		Name:         name,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Model:        model,
		Service:      service,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// modelFrom returns the upper-cased model, from TXT first, then the
// instance name, then the hostname.
func modelFrom(entry *zeroconf.ServiceEntry, metadata map[string]string) string {
	for _, key := range modelKeys {
		if v := metadata[key]; strings.HasPrefix(strings.ToUpper(v), "NAX") {
			return strings.ToUpper(v)
		}
	}
	for _, s := range []string{entry.Instance, entry.HostName} {
		if m := modelPattern.FindString(s); m != "" {
			return strings.ToUpper(m)
		}
	}
	return ""
}

// merge fills gaps in a from b; the same device often answers on both
// service types.
func merge(a, b *Device) {
	if a.Service != "_crestron._tcp" && b.Service == "_crestron._tcp" {
		a.Service = b.Service
		a.Port = b.Port
	}
	for k, v := range b.Metadata {
		if _, ok := a.Metadata[k]; !ok {
			a.Metadata[k] = v
		}
	}
}

func (d *Device) matches(ref string) bool {
	ref = strings.TrimSuffix(ref, ".")
	return strings.EqualFold(d.Name, ref) ||
		strings.EqualFold(strings.TrimSuffix(d.Hostname, "."), ref) ||
		strings.EqualFold(strings.TrimSuffix(strings.TrimSuffix(d.Hostname, "."), ".local"), ref) ||
		d.IP == ref ||
		d.ConfigName() == strings.ToLower(ref)
}

// Scan discovers devices with the given timeout.
func Scan(ctx context.Context, timeout time.Duration) ([]*Device, error) {
	s := NewScanner()
	if timeout > 0 {
		s.Timeout = timeout
	}
	return s.Scan(ctx)
}
