package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/server"
	"github.com/nfrund/backplane/internal/transport"
)

var (
	listenFlag     string
	sendBufferFlag int
	maxFrameFlag   int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a websocket backplane",
	Long: `Run a backplane that processes reach with ws://<listen>/bus addresses.
Every frame a process sends is forwarded to every connected process.
Prometheus metrics are served on /metrics and a health check on /healthz.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		addr := listenFlag
		if addr == "" {
			addr = config.New().ListenAddr
		}

		s := server.New(server.WithSendBuffer(sendBufferFlag), server.WithMaxFrameSize(maxFrameFlag))
		return s.Run(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenFlag, "listen", "l", "", "listen address (default $BACKPLANE_LISTEN_ADDR or "+config.DefaultListenAddr+")")
	serveCmd.Flags().IntVar(&sendBufferFlag, "send-buffer", 256, "frames a peer may fall behind before it is disconnected")
	serveCmd.Flags().Int64Var(&maxFrameFlag, "max-frame-size", transport.DefaultMaxFrameSize, "largest frame accepted from a peer, in bytes")
	rootCmd.AddCommand(serveCmd)
}
