package main

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/writer"
)

// defaultActor uses the git user name, as events appended by hand are
// usually support interventions.
func defaultActor() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	return model.ActorSupport
}

var appendCmd = &cobra.Command{
	Use:     "append <stream-id> <type>",
	Short:   "Append an event to a stream",
	GroupID: "events",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		data, _ := cmd.Flags().GetString("data")
		metadata, _ := cmd.Flags().GetString("metadata")

		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		in := writer.Input{
			StreamID: args[0],
			Type:     args[1],
			Actor:    actor,
		}
		if data != "" {
			in.Data = json.RawMessage(data)
		}
		if metadata != "" {
			in.Metadata = json.RawMessage(metadata)
		}

		w := writer.New(writer.Config{Hot: e.hot, Publisher: e.pub, Logger: e.logger})
		event, err := w.Append(ctx, in)
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(event)
		} else {
			printEventTable(event)
		}
		return nil
	},
}

func init() {
	appendCmd.Flags().String("actor", defaultActor(), `actor causing the event ("script" and "support" are reserved)`)
	appendCmd.Flags().String("data", "", "event payload as a JSON document")
	appendCmd.Flags().String("metadata", "", "event metadata as a JSON document")
}
