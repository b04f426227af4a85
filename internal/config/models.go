package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jetsoncontrols/ha-nax/internal/api"
	"github.com/jetsoncontrols/ha-nax/internal/bridge"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
)

// CurrentVersion is the file format version written by Save.
const CurrentVersion = 1

// PasswordEnvPrefix prefixes the per-device password variables.
const PasswordEnvPrefix = "NAX_PASSWORD_"

// Registry is the whole configuration file.
type Registry struct {
	Version     int                `yaml:"version"`
	Default     string             `yaml:"default,omitempty"` // device used when none is named
	Devices     map[string]*Device `yaml:"devices,omitempty"` // keyed by a user-chosen name
	MQTT        bridge.Config      `yaml:"mqtt"`
	API         api.Config         `yaml:"api"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Preferences *Preferences       `yaml:"preferences,omitempty"`

	path string
}

// Device is one NAX connection plus what discovery learned about it.
type Device struct {
	nax.Config `yaml:",inline"`

	Model    string    `yaml:"model,omitempty"`
	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// UnmarshalYAML starts from nax.DefaultConfig so a device entry only
// needs the fields that differ.
func (d *Device) UnmarshalYAML(node *yaml.Node) error {
	type plain Device
	p := plain{Config: nax.DefaultConfig()}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = Device(p)
	return nil
}

// MetricsConfig controls the Prometheus endpoint served with the API.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Runtime bool `yaml:"runtime"` // also export Go runtime and process metrics
}

// Preferences are naxctl defaults.
type Preferences struct {
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
	LogLevel        string        `yaml:"log_level,omitempty"`
}

// NewRegistry returns an empty registry with every section at its
// default.
func NewRegistry() *Registry {
	return &Registry{
		Version: CurrentVersion,
		Devices: make(map[string]*Device),
		MQTT:    bridge.DefaultConfig(),
		API:     api.DefaultConfig(),
		Metrics: MetricsConfig{Enabled: true},
		Preferences: &Preferences{
			DiscoverTimeout: 5 * time.Second,
		},
	}
}

// Path returns the file the registry was loaded from, if any.
func (r *Registry) Path() string { return r.path }

// Names returns the configured device names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetDevice returns the named device, or nil.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// EnsureDevice returns the named device, creating a default entry for
// host if it does not exist.
func (r *Registry) EnsureDevice(name, host string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if d, ok := r.Devices[name]; ok {
		return d
	}
	d := &Device{Config: nax.DefaultConfig()}
	d.Host = host
	r.Devices[name] = d
	if r.Default == "" {
		r.Default = name
	}
	return d
}

// UpdateDeviceLastSeen records a discovery sighting.
func (r *Registry) UpdateDeviceLastSeen(name, host, model string) {
	d := r.EnsureDevice(name, host)
	d.Host = host
	d.LastSeen = time.Now()
	if model != "" {
		d.Model = model
	}
}

// RemoveDevice deletes a device and clears it as default.
func (r *Registry) RemoveDevice(name string) bool {
	if _, ok := r.Devices[name]; !ok {
		return false
	}
	delete(r.Devices, name)
	if r.Default == name {
		r.Default = ""
	}
	return true
}

// ResolveName picks the device a command should use: name if given,
// otherwise the default, otherwise the only configured device.
func (r *Registry) ResolveName(name string) (string, error) {
	switch {
	case name != "":
		if _, ok := r.Devices[name]; !ok {
			return "", fmt.Errorf("device %q is not configured (have: %s)", name, strings.Join(r.Names(), ", "))
		}
		return name, nil
	case r.Default != "":
		if _, ok := r.Devices[r.Default]; !ok {
			return "", fmt.Errorf("default device %q is not configured", r.Default)
		}
		return r.Default, nil
	case len(r.Devices) == 1:
		return r.Names()[0], nil
	case len(r.Devices) == 0:
		return "", errors.New("no devices configured; run 'naxctl config init' or pass --host")
	default:
		return "", fmt.Errorf("several devices configured (%s); pick one with --device", strings.Join(r.Names(), ", "))
	}
}

// DeviceConfig returns the validated connection settings for a device,
// with its password taken from the environment when set there.
func (r *Registry) DeviceConfig(name string) (nax.Config, error) {
	resolved, err := r.ResolveName(name)
	if err != nil {
		return nax.Config{}, err
	}
	cfg := r.Devices[resolved].Config
	if pw, ok := os.LookupEnv(PasswordEnv(resolved)); ok {
		cfg.Password = pw
	}
	if err := cfg.Validate(); err != nil {
		return nax.Config{}, fmt.Errorf("device %q: %w", resolved, err)
	}
	return cfg, nil
}

// PasswordEnv returns the environment variable holding name's password.
func PasswordEnv(name string) string {
	return PasswordEnvPrefix + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, name)
}

// Validate checks every section.
func (r *Registry) Validate() error {
	var errs []error
	if r.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", r.Version, CurrentVersion))
	}
	for _, name := range r.Names() {
		if err := r.Devices[name].Config.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", name, err))
		}
	}
	if r.Default != "" && r.Devices[r.Default] == nil {
		errs = append(errs, fmt.Errorf("default device %q is not configured", r.Default))
	}
	if r.MQTT.Enabled {
		if err := r.MQTT.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.API.Enabled {
		if err := r.API.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MQTTPasswordEnv holds the broker password.
const MQTTPasswordEnv = "NAX_MQTT_PASSWORD"

// MQTTConfig returns the bridge settings with the broker password taken
// from the environment when set there.
func (r *Registry) MQTTConfig() bridge.Config {
	cfg := r.MQTT
	if pw, ok := os.LookupEnv(MQTTPasswordEnv); ok {
		cfg.Auth.Password = pw
	}
	return cfg
}
