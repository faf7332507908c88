package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move events from the hot store to the cold store",
	Long: `Run one migration pass: copy the oldest hot events to the cold store in
batches, then delete them from the hot store. With --drain, passes repeat
until the hot store is empty.`,
	GroupID: "maintenance",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetBool("drain")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.ensureIndexed(ctx); err != nil {
			return err
		}

		if batchSize <= 0 {
			batchSize = e.cfg.MigrationBatchSize
		}
		w := migration.NewWorker(e.hot, e.cold, batchSize, e.pub, e.logger)

		var stats migration.PassStats
		if drain {
			stats, err = w.Drain(ctx)
		} else {
			stats, err = w.RunPass(ctx)
		}
		printStats("Migration", stats, [][2]string{
			{"batches", fmt.Sprint(stats.Batches)},
			{"fetched", fmt.Sprint(stats.Fetched)},
			{"migrated", fmt.Sprint(stats.Migrated)},
			{"duplicates", fmt.Sprint(stats.Duplicates)},
			{"deleted", fmt.Sprint(stats.Deleted)},
			{"delete failures", fmt.Sprint(stats.DeleteFailures)},
		})
		return err
	},
}

func init() {
	migrateCmd.Flags().Bool("drain", false, "repeat passes until the hot store is empty")
	migrateCmd.Flags().Int("batch-size", 0, "events per batch (default EVLOG_MIGRATION_BATCH_SIZE)")
}
