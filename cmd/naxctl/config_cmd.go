package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jetsoncontrols/ha-nax/internal/config"
	"github.com/jetsoncontrols/ha-nax/internal/ui"
)

var (
	initName  string
	initForce bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)

	configInitCmd.Flags().StringVar(&initName, "name", "nax", "Name for the device entry")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file without asking")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file for --host",
	Example: `  naxctl config init --host 192.168.1.50
  naxctl config init --host nax-8zsa.local --name lounge`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if deviceHost == "" {
			return fmt.Errorf("--host is required")
		}
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		if _, err := os.Stat(path); err == nil {
			if !initForce && !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Configuration exists",
				path+" will be replaced") {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return err
			}
		}

		reg, err := config.CreateDefaultConfig(path, initName, deviceHost)
		if err != nil {
			return err
		}
		if devicePort != 0 || username != "" {
			d := reg.GetDevice(initName)
			if devicePort != 0 {
				d.Port = devicePort
			}
			if username != "" {
				d.Username = username
			}
			if err := reg.Save(); err != nil {
				return err
			}
		}

		p.PrintSuccess("Configuration written",
			ui.Param{Key: "File", Value: path},
			ui.Param{Key: "Device", Value: initName + " → " + deviceHost},
			ui.Param{Key: "Password", Value: "$" + config.PasswordEnv(initName)},
		)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (passwords omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		data, err := reg.YAML()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", reg.Path(), data)
		return reg.Validate()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
