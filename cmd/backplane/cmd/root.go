package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/logging"
)

var (
	addressFlag string
	nameFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "backplane",
	Short: "Topic based publish/subscribe bus",
	Long: `Backplane connects independent processes through a shared message bus.
Each process publishes payloads on topics and receives the payloads of the
topics it subscribed to.

The bus address selects the transport:
  ws://host:port/bus     a backplane started with "backplane serve"
  nats://host:4222       a NATS server
  redis://host:6379/0    Redis pub/sub
  gossip://<topic>       libp2p gossipsub, no server
  mem://<name>           in-process, for tests and demos

Use "backplane [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.New()
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addressFlag, "address", "a", "", "bus address (default $BACKPLANE_ADDRESS or "+config.DefaultAddress+")")
	rootCmd.PersistentFlags().StringVarP(&nameFlag, "name", "n", "", "process name (default $BACKPLANE_PROCESS_NAME)")
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(defaultName string) *config.Config {
	cfg := config.New()
	if addressFlag != "" {
		cfg.Process.Address = addressFlag
	}
	if nameFlag != "" {
		cfg.Process.ProcessName = nameFlag
	}
	if cfg.Process.ProcessName == "" {
		cfg.Process.ProcessName = defaultName
	}
	return cfg
}

// signalContext is canceled on interrupt or terminate.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// ignoreCanceled treats an interrupted command as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
