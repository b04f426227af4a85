package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jetsoncontrols/ha-nax/internal/config"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/ui"
)

// sharedPasswordEnv is consulted after the per-device variable.
const sharedPasswordEnv = "NAX_PASSWORD"

func loadRegistry() (*config.Registry, error) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return reg, nil
}

// resolveDevice picks the device the command talks to and fills in flag
// overrides and the password.
func resolveDevice() (string, nax.Config, error) {
	var (
		name string
		cfg  nax.Config
	)
	if deviceHost != "" {
		name = deviceHost
		cfg = nax.DefaultConfig()
		cfg.Host = deviceHost
		if pw, ok := os.LookupEnv(config.PasswordEnv(deviceHost)); ok {
			cfg.Password = pw
		}
	} else {
		reg, err := loadRegistry()
		if err != nil {
			return "", nax.Config{}, err
		}
		if name, err = reg.ResolveName(deviceName); err != nil {
			return "", nax.Config{}, err
		}
		if cfg, err = reg.DeviceConfig(name); err != nil {
			return "", nax.Config{}, err
		}
	}

	if devicePort != 0 {
		cfg.Port = devicePort
	}
	if username != "" {
		cfg.Username = username
	}
	if err := fillPassword(name, &cfg); err != nil {
		return "", nax.Config{}, err
	}
	return name, cfg, cfg.Validate()
}

func fillPassword(name string, cfg *nax.Config) error {
	if cfg.Password != "" {
		return nil
	}
	if pw, ok := os.LookupEnv(sharedPasswordEnv); ok {
		cfg.Password = pw
		return nil
	}
	pw, err := ui.PromptPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host))
	if errors.Is(err, ui.ErrNotTerminal) {
		return fmt.Errorf("no password for %q; set %s or %s", name, config.PasswordEnv(name), sharedPasswordEnv)
	}
	if err != nil {
		return err
	}
	cfg.Password = pw
	return nil
}

// connect resolves the device and blocks until its state is mirrored.
func connect(ctx context.Context, opts ...nax.Option) (string, *nax.Client, error) {
	name, cfg, err := resolveDevice()
	if err != nil {
		return "", nil, err
	}
	client, err := nax.New(cfg, opts...)
	if err != nil {
		return "", nil, err
	}

	d, err := time.ParseDuration(timeout)
	if err != nil {
		return "", nil, fmt.Errorf("invalid --timeout: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := client.Connect(cctx); err != nil {
		client.Disconnect()
		if !jsonOutput {
			ui.NewPrinter(os.Stderr).PrintError("Could not connect to "+cfg.Host, err)
		}
		return "", nil, fmt.Errorf("connect %s: %w", cfg.Host, err)
	}
	return name, client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJSONLine writes v as one compact line, for streams.
func printJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
