package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/api"
	"github.com/jetsoncontrols/ha-nax/internal/bridge"
	"github.com/jetsoncontrols/ha-nax/internal/config"
	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/metrics"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/ui"
	"github.com/jetsoncontrols/ha-nax/internal/version"
)

var (
	serveMQTT   bool
	serveAPI    bool
	serveListen string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMQTT, "mqtt", false, "Enable the MQTT bridge even if the config disables it")
	serveCmd.Flags().BoolVar(&serveAPI, "api", false, "Enable the HTTP API even if the config disables it")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP API listen address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MQTT bridge and HTTP API for configured devices",
	Long: `Connect to every configured device (or just --device) and keep them
connected, publishing state to MQTT and serving the HTTP API and
Prometheus metrics as the configuration file enables.

Broker password: $` + config.MQTTPasswordEnv + `.`,
	Example: `  naxctl serve
  naxctl serve --api --listen :9000
  naxctl serve --device lounge --mqtt`,
	RunE: runServe,
}

// served is one device kept connected by serve.
type served struct {
	name   string
	client *nax.Client
	broker *bridge.Client
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if deviceHost != "" {
		return errors.New("serve uses the configuration file; --host is not supported")
	}
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	if serveMQTT {
		reg.MQTT.Enabled = true
	}
	if serveAPI || serveListen != "" {
		reg.API.Enabled = true
	}
	if serveListen != "" {
		reg.API.Listen = serveListen
	}
	if !reg.MQTT.Enabled && !reg.API.Enabled {
		return errors.New("nothing to serve: enable mqtt or api in the configuration file, or pass --mqtt/--api")
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	names := reg.Names()
	if deviceName != "" {
		if reg.GetDevice(deviceName) == nil {
			return fmt.Errorf("device %q is not configured", deviceName)
		}
		names = []string{deviceName}
	}
	if len(names) == 0 {
		return errors.New("no devices configured; run 'naxctl discover --save' or 'naxctl config init'")
	}

	log := logging.Named("serve")
	var metricOpts []metrics.Option
	if reg.Metrics.Runtime {
		metricOpts = append(metricOpts, metrics.WithRuntimeMetrics())
	}
	collector := metrics.New(metricOpts...)
	tracer := otel.Tracer("github.com/jetsoncontrols/ha-nax")

	devices := make([]*served, 0, len(names))
	for _, name := range names {
		cfg, err := reg.DeviceConfig(name)
		if err != nil {
			return err
		}
		if err := fillPassword(name, &cfg); err != nil {
			return err
		}
		client, err := nax.New(cfg, nax.WithObserver(collector.ForDevice(name)), nax.WithTracer(tracer))
		if err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
		devices = append(devices, &served{name: name, client: client})
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	params := []ui.Param{{Key: "Devices", Value: strings.Join(names, ", ")}}
	if reg.MQTT.Enabled {
		params = append(params, ui.Param{Key: "MQTT", Value: fmt.Sprintf("%s:%d (%s/)", reg.MQTT.Broker.Host, reg.MQTT.Broker.Port, reg.MQTT.TopicPrefix)})
	}
	if reg.API.Enabled {
		params = append(params, ui.Param{Key: "HTTP API", Value: reg.API.Listen})
	}
	p.PrintHeader("NAX bridge", "naxctl serve", params...)

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
		for _, d := range devices {
			d.client.Disconnect()
			if d.broker != nil {
				_ = d.broker.Close()
			}
		}
		logging.Info("Stopped")
	}()

	// Connect blocks until the first baseline; a device that is down keeps
	// retrying in the background and must not hold up the others.
	for _, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.client.Connect(ctx); err != nil && ctx.Err() == nil {
				log.Error("Device connection failed", zap.String("device", d.name), zap.Error(err))
			}
		}()
	}

	if reg.MQTT.Enabled {
		for _, d := range devices {
			if err := startBridge(ctx, &wg, reg.MQTTConfig(), d); err != nil {
				return err
			}
		}
	}

	var server *api.Server
	if reg.API.Enabled {
		clients := make(map[string]*nax.Client, len(devices))
		for _, d := range devices {
			clients[d.name] = d.client
		}
		def := reg.Default
		if _, ok := clients[def]; !ok {
			def = ""
		}
		deps := api.Deps{Config: reg.API, Devices: clients, Default: def, Version: version.Full()}
		if reg.Metrics.Enabled {
			deps.Metrics = collector.Handler()
		}
		server, err = api.New(deps)
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Close()
		log.Info("HTTP API listening", zap.String("addr", server.Addr()))
	}

	<-ctx.Done()
	return nil
}

// startBridge connects one broker session per device so each carries its
// own last-will availability topic.
func startBridge(ctx context.Context, wg *sync.WaitGroup, cfg bridge.Config, d *served) error {
	topics := bridge.NewTopics(cfg.TopicPrefix, d.name)
	if cfg.Broker.ClientID != "" {
		cfg.Broker.ClientID += "-" + bridge.TopicSegment(d.name)
	}
	broker, err := bridge.Connect(cfg, topics.Availability())
	if err != nil {
		return fmt.Errorf("mqtt for %q: %w", d.name, err)
	}
	d.broker = broker

	b := bridge.New(d.client, broker, topics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Run(ctx); err != nil {
			logging.Error("MQTT bridge stopped", zap.String("device", d.name), zap.Error(err))
		}
	}()
	return nil
}
