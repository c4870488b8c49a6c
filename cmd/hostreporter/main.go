// Hostreporter reports the state of a Linux host to Home Assistant over
// MQTT.
//
// It publishes a device discovery message, periodic sensor status and
// an availability heartbeat, accepts reboot and suspend commands, and
// says "offline" before the host sleeps. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	hostreporter serve             Run the agent (default)
//	hostreporter discovery         Print the discovery payload without connecting
//	hostreporter machine-id        Print the derived machine identifier
//	hostreporter version           Print version and build information
//	hostreporter -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/hostreporter/internal/buildinfo"
	"github.com/nugget/hostreporter/internal/config"
)

// main constructs the OS-level environment and delegates to [run] so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string
}

// run is the real entry point. It returns nil on clean shutdown.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRootCmd builds the command tree. Nothing is held in package
// globals, so tests can run it concurrently.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), stdout, flags.configPath)
	}

	root := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         "Report host state to Home Assistant over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the agent",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "discovery",
			Short: "Print the discovery payload without connecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDiscovery(cmd.Context(), stdout, stderr, flags.configPath)
			},
		},
		&cobra.Command{
			Use:   "machine-id",
			Short: "Print the derived machine identifier",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMachineID(stdout, flags.configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version and build information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runVersion(stdout, flags.output)
			},
		},
	)
	return root
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range buildinfo.Fields {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. A missing
// config file is not an error for the agent; defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}
