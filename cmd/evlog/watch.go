package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/events"
	"github.com/trackdechets/eventlog/internal/ui"
)

// watchLine is the JSON shape of one received notification.
type watchLine struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

var watchCmd = &cobra.Command{
	Use:   "watch [topic]",
	Short: "Print event log notifications as they are published",
	Long: `Subscribe to notifications on NATS and print them.

The topic defaults to every notification (eventlog.>). Narrower topics
include eventlog.event.appended, eventlog.migration.completed and
eventlog.compaction.completed.`,
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			return errors.New("no NATS server: set EVLOG_NATS_URL or use --nats-url")
		}
		topic := events.TopicAll
		if len(args) == 1 {
			topic = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		logger := newLogger(slog.LevelInfo)
		sub, err := events.NewNATSSubscriber(natsURL,
			nats.Name("evlog-watch"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return err
		}
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				printNotification(msg)
			}
		}
	},
}

func printNotification(msg events.Message) {
	if jsonOutput {
		data, err := json.Marshal(watchLine{Topic: msg.Topic, Data: msg.Data})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s %s %s\n",
		ui.RenderMuted(time.Now().Format("15:04:05.000")),
		ui.RenderAccent(msg.Topic),
		msg.Data,
	)
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("EVLOG_NATS_URL"), "NATS server URL")
}
