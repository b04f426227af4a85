package main

import (
	"path/filepath"
	"testing"

	"github.com/jetsoncontrols/ha-nax/internal/config"
)

// resetFlags restores the global flag variables after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	saved := []any{deviceName, deviceHost, devicePort, username}
	t.Cleanup(func() {
		deviceName = saved[0].(string)
		deviceHost = saved[1].(string)
		devicePort = saved[2].(int)
		username = saved[3].(string)
	})
}

func TestResolveDevice_Host(t *testing.T) {
	resetFlags(t)
	deviceHost, devicePort, username = "10.0.0.20", 8443, "integrator"
	t.Setenv("NAX_PASSWORD_10_0_0_20", "pw")

	name, cfg, err := resolveDevice()
	if err != nil {
		t.Fatalf("resolveDevice() = %v", err)
	}
	if name != "10.0.0.20" || cfg.Host != "10.0.0.20" || cfg.Port != 8443 || cfg.Username != "integrator" || cfg.Password != "pw" {
		t.Errorf("got %q %+v", name, cfg)
	}
}

func TestResolveDevice_SharedPasswordEnv(t *testing.T) {
	resetFlags(t)
	deviceHost = "nax.local"
	t.Setenv(sharedPasswordEnv, "shared")

	_, cfg, err := resolveDevice()
	if err != nil {
		t.Fatalf("resolveDevice() = %v", err)
	}
	if cfg.Password != "shared" {
		t.Errorf("Password = %q", cfg.Password)
	}
}

func TestFillPassword_EmptySharedEnv(t *testing.T) {
	cfg := config.NewRegistry().EnsureDevice("lounge", "10.0.0.20").Config
	t.Setenv(sharedPasswordEnv, "")
	cfg.Password = ""

	err := fillPassword("lounge", &cfg)
	if err != nil {
		t.Fatalf("fillPassword() = %v; an empty %s is still a value", err, sharedPasswordEnv)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"discover", "get", "set", "watch", "monitor", "zones", "serve", "config", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
}

func TestConfigInit(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(config.PathEnv, path)
	deviceHost = "192.168.1.50"

	rootCmd.SetArgs([]string{"config", "init", "--name", "lounge", "--host", "192.168.1.50"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}

	reg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	d := reg.GetDevice("lounge")
	if d == nil || d.Host != "192.168.1.50" || reg.Default != "lounge" {
		t.Fatalf("written config = %+v", reg)
	}
}
