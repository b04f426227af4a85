package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jetsoncontrols/ha-nax/internal/discovery"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
	"github.com/jetsoncontrols/ha-nax/internal/ui"
)

var (
	scanTimeout time.Duration
	saveFound   bool
	replay      bool
)

func init() {
	rootCmd.AddCommand(discoverCmd, getCmd, setCmd, watchCmd, monitorCmd, zonesCmd)

	discoverCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 0, "How long to listen (default from config, 5s)")
	discoverCmd.Flags().BoolVar(&saveFound, "save", false, "Add found devices to the configuration file")
	watchCmd.Flags().BoolVar(&replay, "replay", false, "Print current values before live changes")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find NAX devices on the local network",
	Long: `Browse mDNS for Crestron NAX devices.

Devices are matched by model ("NAX-...") in TXT records, instance names or
hostnames. Use --save to add them to the configuration file.`,
	Example: `  naxctl discover
  naxctl discover --scan-timeout 10s --save`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	wait := scanTimeout
	if wait == 0 && reg.Preferences != nil {
		wait = reg.Preferences.DiscoverTimeout
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if !jsonOutput {
		p.Printf("Scanning for NAX devices (%s)...\n\n", wait)
	}
	devices, err := discovery.Scan(ctx, wait)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), devices); err != nil {
			return err
		}
	} else if len(devices) == 0 {
		p.PrintWarning("No NAX devices found")
		p.Println("  • Check the device is on the same network segment")
		p.Println("  • Allow mDNS (UDP 5353) through the firewall")
		p.Println("  • Try a longer --scan-timeout, or pass --host")
		return nil
	} else {
		rows := make([][]string, 0, len(devices))
		for _, d := range devices {
			rows = append(rows, []string{d.ConfigName(), d.Model, d.Host(), strings.TrimSuffix(d.Hostname, "."), d.Service})
		}
		p.PrintTable([]string{"NAME", "MODEL", "HOST", "HOSTNAME", "SERVICE"}, rows)
	}

	if saveFound && len(devices) > 0 {
		for _, d := range devices {
			reg.UpdateDeviceLastSeen(d.ConfigName(), d.Host(), d.Model)
		}
		if err := reg.Save(); err != nil {
			return err
		}
		if !jsonOutput {
			p.Printf("\nSaved %d device(s) to %s\n", len(devices), reg.Path())
		}
	}
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print an attribute, or every attribute under a path",
	Example: `  naxctl get zone/1/volume
  naxctl get /Device/ZoneOutputs/Zones/Zone01
  naxctl get input/2/name --json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	av, err := client.GetState(args[0])
	if err == nil {
		return printValues(cmd, []state.AttributeValue{av})
	}
	if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	p, _ := protocol.ResolvePath(args[0])
	values := client.Store().Walk(p)
	if len(values) == 0 {
		return fmt.Errorf("%s: %w", p, state.ErrNotFound)
	}
	return printValues(cmd, values)
}

func printValues(cmd *cobra.Command, values []state.AttributeValue) error {
	if jsonOutput {
		if len(values) == 1 {
			return printJSON(cmd.OutOrStdout(), values[0])
		}
		return printJSON(cmd.OutOrStdout(), values)
	}
	if len(values) == 1 {
		fmt.Fprintln(cmd.OutOrStdout(), values[0].Value.String())
		return nil
	}
	rows := make([][]string, 0, len(values))
	for _, av := range values {
		rows = append(rows, []string{av.Path.String(), av.Value.Kind().String(), av.Value.String()})
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"PATH", "KIND", "VALUE"}, rows)
	return nil
}

var setCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set an attribute and wait for the device to confirm",
	Long: `Set an attribute. The value is parsed by the attribute's kind, so
"true", "55" and "Input02" all work. The command waits for the device to
echo the change or report the result.`,
	Example: `  naxctl set zone/1/volume 55
  naxctl set zone/1/mute true
  naxctl set route/1 Input02
  naxctl set route/1 ""   # turn zone 1 off`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	res, err := client.SendText(ctx, args[0], args[1])
	if err != nil {
		if !jsonOutput {
			ui.NewPrinter(os.Stderr).PrintError("Set "+args[0]+" failed", err)
		}
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"path":       res.Path,
			"value":      res.Value,
			"seq":        res.Seq,
			"outcome":    string(res.Outcome),
			"latency_ms": res.Latency.Milliseconds(),
		})
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Confirmed",
		ui.Param{Key: "Path", Value: res.Path.String()},
		ui.Param{Key: "Value", Value: res.Value.String()},
		ui.Param{Key: "Outcome", Value: string(res.Outcome)},
		ui.Param{Key: "Latency", Value: res.Latency.Round(time.Millisecond).String()},
	)
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch [prefix]",
	Short: "Print attribute changes as they happen",
	Example: `  naxctl watch
  naxctl watch zone/1 --replay
  naxctl watch /Device/InputSources --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	name, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	prefix := protocol.DeviceRoot.String()
	if len(args) == 1 {
		prefix = args[0]
	}
	var opts []state.SubscribeOption
	if replay {
		opts = append(opts, state.WithReplay())
	}
	sub, err := client.OnChange(prefix, opts...)
	if err != nil {
		return err
	}
	defer sub.Close()

	out := cmd.OutOrStdout()
	if !jsonOutput {
		fmt.Fprintln(os.Stderr, ui.MutedStyle.Render("Watching "+name+" "+prefix+" (Ctrl+C to stop)"))
	}
	for av := range sub.All(ctx) {
		if jsonOutput {
			if err := printJSONLine(out, av); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "%s  %-6s %s = %s\n",
			av.UpdatedAt.Format("15:04:05.000"), "#"+strconv.FormatUint(av.Revision, 10), av.Path, av.Value)
	}
	return nil
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Full-screen live zone monitor",
	Long: `Show every zone with volume, mute, source, AES67 stream and faults.

Keys: ↑/↓ select, +/- volume, m mute, o on/off, s next source,
r reconnect, ? help, q quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		name, client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		title := client.DeviceInfo().Name
		if title == "" {
			title = name
		}
		return ui.RunMonitor(ctx, client, title)
	},
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List zones with their volume, mute and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		_, client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		zones := ui.ZoneRows(client)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), zones)
		}
		rows := make([][]string, 0, len(zones))
		for _, z := range zones {
			vol := "?"
			if z.HasVolume {
				vol = strconv.Itoa(z.Volume)
			}
			src := z.Source
			if src == "" {
				src = "off"
			}
			rows = append(rows, []string{z.ID, z.Name, vol, strconv.FormatBool(z.Muted), src, z.Stream, strings.Join(z.Faults, ",")})
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"ID", "NAME", "VOLUME", "MUTED", "SOURCE", "STREAM", "FAULTS"}, rows)
		return nil
	},
}
