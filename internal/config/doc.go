// Package config manages the naxctl configuration file.
//
// The file is YAML and lists the NAX devices to talk to, plus the MQTT
// bridge, HTTP API and metrics settings used by "naxctl serve". It lives
// in the platform's configuration directory:
//   - Linux: $XDG_CONFIG_HOME/nax/config.yaml or $HOME/.config/nax/config.yaml
//   - macOS: $HOME/.config/nax/config.yaml
//   - Windows: %LOCALAPPDATA%\nax\config.yaml
//
// # Passwords
//
// Device passwords are never written by Save. Supply them with the
// NAX_PASSWORD_<NAME> environment variable (NAME upper-cased, other
// characters replaced by "_"), or let naxctl prompt for them. A password
// typed into the file by hand is honored.
//
// # Usage
//
//	reg, err := config.LoadRegistry()
//	if err != nil {
//	    return err
//	}
//	cfg, err := reg.DeviceConfig("") // the default device
//	if err != nil {
//	    return err
//	}
//	client, err := nax.New(cfg)
//
// The global registry is loaded once with sync.Once; Save writes a
// temporary file and renames it over the original.
package config
