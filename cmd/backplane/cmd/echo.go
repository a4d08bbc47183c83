package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/app"
	"github.com/nfrund/backplane/internal/config"
	"github.com/nfrund/backplane/internal/envelope"
	"github.com/nfrund/backplane/internal/process"
)

const (
	echoTopic  = "echo"
	replyTopic = "reply"
)

var echoCountFlag int

var echoServerCmd = &cobra.Command{
	Use:   "echo-server",
	Short: "Republish every echo message on the reply topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		cfg := loadConfig("echo_server")
		injector := app.New(cfg)
		defer injector.Shutdown()

		var proc *process.Process
		proc, err := app.StartProcess(ctx, injector, config.Process{
			ProcessName: cfg.Process.ProcessName,
			Address:     cfg.Process.Address,
			Topics:      []string{echoTopic},
		}, echoServer(func(ctx context.Context, payload envelope.Payload) error {
			return proc.PublishPayload(ctx, payload, replyTopic)
		}))
		if err != nil {
			return err
		}
		return ignoreCanceled(proc.ReceiveLoop(ctx))
	},
}

// echoServer returns a handler that passes each payload to reply unchanged.
func echoServer(reply func(ctx context.Context, payload envelope.Payload) error) process.HandlerFunc {
	return func(ctx context.Context, topic string, payload envelope.Payload) error {
		return reply(ctx, payload)
	}
}

var echoClientCmd = &cobra.Command{
	Use:   "echo-client",
	Short: "Exchange a count-down of messages with an echo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		cfg := loadConfig("echo_client")
		injector := app.New(cfg)
		defer injector.Shutdown()

		client := newEchoClient(echoCountFlag, cmd.OutOrStdout())
		proc, err := app.StartProcess(ctx, injector, config.Process{
			ProcessName: cfg.Process.ProcessName,
			Address:     cfg.Process.Address,
			Topics:      []string{replyTopic},
		}, client)
		if err != nil {
			return err
		}
		client.publisher = proc
		return ignoreCanceled(client.run(ctx, proc))
	},
}

// errEchoComplete stops the receive loop once the last reply has arrived.
var errEchoComplete = errors.New("echo exchange complete")

type payloadPublisher interface {
	PublishPayload(ctx context.Context, payload envelope.Payload, topic string) error
}

// echoClient sends message_number n, waits for its reply, then sends n-1, down to 0.
type echoClient struct {
	total     int
	next      int64
	publisher payloadPublisher
	out       io.Writer
}

func newEchoClient(count int, out io.Writer) *echoClient {
	if count < 0 {
		count = 0
	}
	return &echoClient{total: count, next: int64(count), out: out}
}

func (c *echoClient) run(ctx context.Context, proc *process.Process) error {
	if err := c.publisher.PublishPayload(ctx, envelope.Payload{"message_number": c.next}, echoTopic); err != nil {
		return err
	}
	err := proc.ReceiveLoop(ctx)
	if errors.Is(err, errEchoComplete) {
		fmt.Fprintf(c.out, "%d messages sent and received.\n", c.total+1)
		return nil
	}
	return err
}

func (c *echoClient) Handle(ctx context.Context, topic string, payload envelope.Payload) error {
	n, ok := payload["message_number"].(int64)
	if !ok {
		return fmt.Errorf("reply without message_number: %v", payload)
	}
	if n != c.next {
		// A reply from an earlier run or another client; not ours to count.
		return nil
	}
	if n == 0 {
		return errEchoComplete
	}
	c.next--
	return c.publisher.PublishPayload(ctx, envelope.Payload{"message_number": c.next}, echoTopic)
}

func init() {
	echoClientCmd.Flags().IntVarP(&echoCountFlag, "count", "c", 10, "first message number; the exchange ends after 0")
	rootCmd.AddCommand(echoServerCmd)
	rootCmd.AddCommand(echoClientCmd)
}
