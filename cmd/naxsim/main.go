// Naxsim runs a simulated Crestron NAX device.
//
// It speaks the CresNext login and WebSocket protocol over TLS with an
// in-memory zone tree, so naxctl and the MQTT bridge can be exercised
// without hardware.
//
// Usage:
//
//	naxsim serve [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/simulator"
	"github.com/jetsoncontrols/ha-nax/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "naxsim",
	Short: "Simulated Crestron NAX device",
	Long: `A standalone simulator for Crestron NAX audio devices.

It serves the CresNext login endpoints and the /websockify state channel
over TLS, keeps an in-memory zone tree and echoes sets the way a real
device does.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	certPath string
	keyPath  string
	host     string
	port     int
	logLevel string
	username string
	password string
	zones    int
	inputs   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator",
	Long: `Start a simulated NAX device.

A self-signed certificate is generated unless --cert and --key are given.
Point naxctl at it with verify_tls off (the default).`,
	Example: `  # 8 zones on :8443 with admin/admin
  naxsim serve --port 8443

  # A small device with its own login
  naxsim serve --zones 2 --inputs 2 --username integrator --password s3cret

  # Talk to it
  naxctl --host 127.0.0.1 --port 8443 get zone/1/volume`,
	RunE: runServe,
}

func init() {
	def := simulator.DefaultConfig()
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file (generated when empty)")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().StringVar(&host, "host", "", "Listen host (empty = all interfaces)")
	serveCmd.Flags().IntVar(&port, "port", 443, "Listen port")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&username, "username", def.Username, "Accepted login username")
	serveCmd.Flags().StringVar(&password, "password", def.Password, "Accepted login password")
	serveCmd.Flags().IntVar(&zones, "zones", def.Zones, "Number of zone outputs")
	serveCmd.Flags().IntVar(&inputs, "inputs", def.Inputs, "Number of audio inputs")
}

func runServe(cmd *cobra.Command, args []string) error {
	if (certPath == "") != (keyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither (will auto-generate)")
	}
	if zones < 1 || inputs < 1 {
		return fmt.Errorf("--zones and --inputs must be at least 1")
	}
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	srv, err := simulator.NewServer(simulator.ServerConfig{
		Host:     host,
		Port:     port,
		CertPath: certPath,
		KeyPath:  keyPath,
		Device: simulator.Config{
			Username: username,
			Password: password,
			Zones:    zones,
			Inputs:   inputs,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Simulated device ready",
		zap.String("addr", srv.Addr()),
		zap.Int("zones", zones),
		zap.Int("inputs", inputs),
		zap.String("username", username))
	return srv.Run(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("naxsim %s\n", version.Full())
	},
}
