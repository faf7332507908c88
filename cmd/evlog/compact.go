package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/compaction"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Delete events that repeat the previous payload of their stream",
	Long: `Compact streams: within each stream, delete every event whose payload
equals the payload of the last event kept before it.

An interrupted run prints its cursor; pass it back with --from to resume.`,
	GroupID: "maintenance",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		streamID, _ := cmd.Flags().GetString("stream")
		hot, _ := cmd.Flags().GetBool("hot")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		if pageSize <= 0 {
			pageSize = e.cfg.CompactionPageSize
		}
		var target compaction.Target = compaction.ColdTarget{Store: e.cold}
		if hot {
			target = compaction.HotTarget{Store: e.hot}
		}
		c := compaction.New(target, pageSize, e.pub, e.logger)

		if streamID != "" {
			ss, err := c.CompactStream(ctx, streamID)
			if err != nil {
				return err
			}
			printStats("Compaction of "+streamID, ss, [][2]string{
				{"scanned", fmt.Sprint(ss.Scanned)},
				{"deleted", fmt.Sprint(ss.Deleted)},
				{"failed", fmt.Sprint(ss.Failed)},
			})
			return nil
		}

		stats, err := c.Run(ctx, from)
		printStats("Compaction of the "+target.Name()+" store", stats, [][2]string{
			{"streams", fmt.Sprint(stats.Streams)},
			{"scanned", fmt.Sprint(stats.Scanned)},
			{"deleted", fmt.Sprint(stats.Deleted)},
			{"failed", fmt.Sprint(stats.Failed)},
			{"skipped", fmt.Sprint(stats.Skipped)},
			{"cursor", stats.Cursor},
		})
		if err != nil {
			return fmt.Errorf("%w (resume with --from %q)", err, stats.Cursor)
		}
		return nil
	},
}

func init() {
	compactCmd.Flags().String("from", "", "resume after this stream id")
	compactCmd.Flags().String("stream", "", "compact only this stream")
	compactCmd.Flags().Bool("hot", false, "compact the hot store instead of the cold store")
	compactCmd.Flags().Int("page-size", 0, "stream ids listed per page (default EVLOG_COMPACTION_PAGE_SIZE)")
}
