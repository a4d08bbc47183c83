package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/app"
	"github.com/nfrund/backplane/internal/envelope"
	"github.com/nfrund/backplane/internal/transport"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every message on the bus",
	Long: `Print the topic, sequence number and payload of every message on the bus,
whatever its topic. Frames that cannot be decoded are reported and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		cfg := loadConfig("monitor")
		injector := app.New(cfg)
		defer injector.Shutdown()

		transports, err := do.Invoke[*app.Transports](injector)
		if err != nil {
			return err
		}
		conn, err := transports.Registry.Open(ctx, cfg.Process.Address)
		if err != nil {
			return err
		}
		defer conn.Close()

		fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s\n", cfg.Process.Address)
		return ignoreCanceled(monitorFrames(ctx, conn, cmd.OutOrStdout()))
	},
}

// monitorFrames prints every frame read from conn until ctx is done or the connection fails.
func monitorFrames(ctx context.Context, conn transport.Conn, out io.Writer) error {
	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrConnClosed) {
				return nil
			}
			return err
		}

		env, err := envelope.Decode(frame)
		if err != nil {
			fmt.Fprintf(out, "malformed frame (%d bytes): %v\n", len(frame), err)
			continue
		}

		payload, err := json.Marshal(env.Payload)
		if err != nil {
			fmt.Fprintf(out, "%s #%d %v\n", env.Topic, env.Sequence, env.Payload)
			continue
		}
		fmt.Fprintf(out, "%s #%d %s\n", env.Topic, env.Sequence, payload)
	}
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
