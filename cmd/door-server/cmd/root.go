package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engfidow/server-door-lock/internal/config"
	"github.com/engfidow/server-door-lock/internal/service/server"
	"github.com/engfidow/server-door-lock/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// grpcAddress overrides the gRPC listen address.
	grpcAddress string

	// rootCmd represents the base command for running the door server.
	rootCmd = &cobra.Command{
		Use:   "door-server [listen-address]",
		Short: "Run the door lock relay server.",
		Long: `Starts the door lock server that drives the relay and serves its clients.

The HTTP gateway answers /open, /lock, /status and /healthz and upgrades /ws
to the WebSocket event channel. The gRPC door service listens separately and
the MQTT bridge starts when a broker is configured.

Listen address can be provided as argument to override config (e.g., 5000, :8080).
DOOR_PORT, DOOR_RELAY_PIN and DOOR_HARDWARE override the settings file.
Without GPIO hardware the server runs in simulated mode.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				GRPCAddress:   grpcAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the door-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&grpcAddress, "grpc-addr", "g", "", "gRPC listen address override")
}
