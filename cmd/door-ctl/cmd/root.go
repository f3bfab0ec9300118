package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engfidow/server-door-lock/internal/config"
	client "github.com/engfidow/server-door-lock/internal/service/client"
	"github.com/engfidow/server-door-lock/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string

	// rootCmd represents the base command for controlling the door.
	rootCmd = &cobra.Command{
		Use:   "door-ctl",
		Short: "Control the door lock server.",
		Long: `Opens, locks and inspects the door through the door server's gRPC service.

Server address can be provided as argument or loaded from configuration file.
Every change is recorded on the server as made by user@hostname.`,
	}
)

// newActionCommand builds a subcommand performing action.
func newActionCommand(action client.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " [server-address]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use server address argument if provided, otherwise rely on config.
			var serverAddress string
			if len(args) > 0 {
				serverAddress = args[0]
			}

			return client.Run(ctx, &client.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				Action:        action,
			})
		},
	}
}

// Execute runs the door-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	rootCmd.AddCommand(
		newActionCommand(client.ActionOpen, "Unlock the door."),
		newActionCommand(client.ActionLock, "Lock the door."),
		newActionCommand(client.ActionStatus, "Print the current lock state."),
		newActionCommand(client.ActionWatch, "Follow lock state changes until interrupted."),
	)
}
