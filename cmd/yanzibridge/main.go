// Gray Logic Yanzi bridge.
//
// yanzibridge connects one Yanzi Cirrus location to the Gray Logic MQTT bus.
// It keeps a catalogue of the location's data sources, subscribes to their
// pushed samples and republishes every sample as a retained entity state.
// An optional REST/WebSocket API exposes the same entities to local tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Without a subcommand the bridge runs.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "yanzibridge",
		Short: "Bridge a Yanzi Cirrus location onto the Gray Logic MQTT bus",
		Long: `yanzibridge subscribes to the samples of one Yanzi location and
republishes them as retained entity states on graylogic/state/yanzi/#.

Configuration is read from the YAML file given with --config, or from
GRAYLOGIC_CONFIG. Yanzi credentials can be supplied through YANZI_*
environment variables instead of the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "path to the configuration file")

	root.AddCommand(
		runCmd(&configPath),
		locationsCmd(&configPath),
		sourcesCmd(&configPath),
		tokenCmd(&configPath),
		migrateCmd(&configPath),
		versionCmd(),
	)

	return root
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
