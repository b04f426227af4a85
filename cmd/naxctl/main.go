// Naxctl inspects and controls Crestron NAX audio devices.
//
// It discovers devices with mDNS, reads and writes attributes over the
// CresNext WebSocket, watches live changes, runs a full-screen zone
// monitor, and serves the MQTT bridge and HTTP API.
//
// Usage:
//
//	naxctl [command] [flags]
//
// Devices come from the configuration file (see 'naxctl config init') or
// from --host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jetsoncontrols/ha-nax/internal/config"
	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags.
var (
	configPath string
	deviceName string
	deviceHost string
	devicePort int
	username   string
	logLevel   string
	timeout    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "naxctl",
	Short: "Crestron NAX control utility",
	Long: `A command-line client for Crestron NAX audio devices.

naxctl keeps a live mirror of the device state over the CresNext
WebSocket. Paths may be written in full ("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume")
or as shorthands ("zone/1/volume", "route/2", "input/3/name").`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			config.SetPath(configPath)
		}
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Configuration file (default: platform config dir, or $"+config.PathEnv+")")
	pf.StringVarP(&deviceName, "device", "d", "", "Configured device name (default: the config's default device)")
	pf.StringVar(&deviceHost, "host", "", "Device host; bypasses the configuration file")
	pf.IntVar(&devicePort, "port", 0, "Device HTTPS port (default 443)")
	pf.StringVarP(&username, "username", "u", "", "Login username (default from config, or admin)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty")
	pf.StringVar(&timeout, "timeout", "15s", "Connect timeout")
	pf.BoolVar(&jsonOutput, "json", false, "Print JSON instead of styled output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), version.Get())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "naxctl %s\n", version.Full())
		return nil
	},
}
