package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "nax"
	configFile = "config.yaml"

	// PathEnv overrides the configuration file location.
	PathEnv = "NAX_CONFIG"
)

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error
	globalPath         string

	fileMutex sync.Mutex
)

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/nax or $HOME/.config/nax
//   - macOS: $HOME/.config/nax
//   - Windows: %LOCALAPPDATA%\nax
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", errors.New("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	}
}

// GetConfigPath returns the configuration file path: the one given to
// SetPath, then $NAX_CONFIG, then the platform default.
func GetConfigPath() (string, error) {
	if globalPath != "" {
		return globalPath, nil
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// SetPath points the global registry at a specific file. It must be
// called before LoadRegistry.
func SetPath(path string) {
	globalPath = path
}

// LoadRegistry loads the global registry once. A missing file yields a
// default registry.
func LoadRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		path, err := GetConfigPath()
		if err != nil {
			globalRegistryErr = fmt.Errorf("failed to get config path: %w", err)
			return
		}
		globalRegistry, globalRegistryErr = loadRegistryFromFile(path)
	})
	return globalRegistry, globalRegistryErr
}

// ReloadRegistry discards the in-memory registry and reads the file again.
func ReloadRegistry() (*Registry, error) {
	fileMutex.Lock()
	globalRegistryOnce = sync.Once{}
	fileMutex.Unlock()
	return LoadRegistry()
}

// Load reads a registry from path without touching the global one.
func Load(path string) (*Registry, error) {
	return loadRegistryFromFile(path)
}

func loadRegistryFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		reg := NewRegistry()
		reg.path = path
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	reg, err := parseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	reg.path = path
	return reg, nil
}

// parseRegistry decodes over NewRegistry so omitted sections keep their
// defaults.
func parseRegistry(data []byte) (*Registry, error) {
	reg := NewRegistry()
	reg.Version = 0
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, err
	}
	if reg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", reg.Version, CurrentVersion)
	}
	if reg.Devices == nil {
		reg.Devices = make(map[string]*Device)
	}
	if reg.Preferences == nil {
		reg.Preferences = NewRegistry().Preferences
	}
	return reg, nil
}

// marshalRegistry renders r as YAML with every password removed.
func marshalRegistry(r *Registry) ([]byte, error) {
	out := *r
	out.Devices = make(map[string]*Device, len(r.Devices))
	for name, d := range r.Devices {
		cp := *d
		cp.Password = ""
		out.Devices[name] = &cp
	}
	out.MQTT.Auth.Password = ""
	return yaml.Marshal(&out)
}

// Save writes the registry back to the file it was loaded from, or to
// the configured path. Passwords are not written.
func (r *Registry) Save() error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	path := r.path
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := marshalRegistry(r)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte(`# NAX configuration file
#
# Passwords are never written here. Set NAX_PASSWORD_<DEVICE> (device
# name upper-cased) or let naxctl prompt for them.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	r.path = path
	return nil
}

// SaveGlobal saves the global registry.
func SaveGlobal() error {
	reg, err := LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	return reg.Save()
}

// CreateDefaultConfig writes a starter file for host to path, refusing to
// overwrite an existing one.
func CreateDefaultConfig(path, name, host string) (*Registry, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s already exists", path)
	}
	reg := NewRegistry()
	reg.path = path
	reg.EnsureDevice(name, host)
	if err := reg.Save(); err != nil {
		return nil, err
	}
	return reg, nil
}

// YAML renders the registry as Save would write it, without passwords.
func (r *Registry) YAML() ([]byte, error) {
	return marshalRegistry(r)
}
