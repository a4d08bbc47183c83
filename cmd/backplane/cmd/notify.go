package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nfrund/backplane/internal/app"
	"github.com/nfrund/backplane/internal/bus"
	"github.com/nfrund/backplane/internal/envelope"
)

var (
	notifyScheduleFlag string
	notifyTopicFlag    string
	notifyPayloadFlag  string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish a notice on a schedule",
	Long: `Publish a payload on a topic following a cron schedule until interrupted.

Examples:
  backplane notify --schedule "@every 5s" --topic notice --payload '{"level": "info"}'
  backplane notify --schedule "0 * * * *" --topic hourly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		payload, err := envelope.PayloadFromJSON([]byte(notifyPayloadFlag))
		if err != nil {
			return err
		}

		cfg := loadConfig("notifier")
		injector := app.New(cfg)
		defer injector.Shutdown()

		client, err := app.NewClient(injector, cfg.Process.ProcessName)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Connect(ctx, cfg.Process.Address); err != nil {
			return err
		}

		scheduler, err := scheduleNotices(ctx, client, notifyScheduleFlag, notifyTopicFlag, payload)
		if err != nil {
			return err
		}
		scheduler.Start()
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	},
}

// scheduleNotices returns a stopped scheduler that publishes payload on topic following schedule.
func scheduleNotices(ctx context.Context, client *bus.Client, schedule, topic string, payload envelope.Payload) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	_, err := scheduler.AddFunc(schedule, func() {
		if err := client.Publish(ctx, topic, payload); err != nil {
			slog.Warn("Notice not published", "topic", topic, "error", err)
			return
		}
		slog.Debug("Notice published", "topic", topic)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return scheduler, nil
}

func init() {
	notifyCmd.Flags().StringVarP(&notifyScheduleFlag, "schedule", "s", "@every 5s", "cron expression or descriptor")
	notifyCmd.Flags().StringVarP(&notifyTopicFlag, "topic", "t", "notice", "topic to publish on")
	notifyCmd.Flags().StringVarP(&notifyPayloadFlag, "payload", "p", "{}", "JSON object to publish")
	rootCmd.AddCommand(notifyCmd)
}
