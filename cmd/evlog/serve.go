package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/compaction"
	"github.com/trackdechets/eventlog/internal/migration"
	"github.com/trackdechets/eventlog/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration and compaction schedulers",
	Long: `Run background maintenance until interrupted.

Migration runs every EVLOG_MIGRATION_INTERVAL (default 1m) and compaction
of the cold store every EVLOG_COMPACTION_INTERVAL (disabled by default).
Both run once immediately at startup.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		logger := e.logger

		if err := e.ensureIndexed(ctx); err != nil {
			return err
		}

		var schedulers []*schedule.Scheduler

		if e.cfg.MigrationInterval > 0 {
			worker := migration.NewWorker(e.hot, e.cold, e.cfg.MigrationBatchSize, e.pub, logger)
			s := schedule.New("migration", worker.Job, e.cfg.MigrationInterval, logger)
			s.Start()
			schedulers = append(schedulers, s)
			logger.Info("migration scheduler started",
				"interval", e.cfg.MigrationInterval, "batch_size", e.cfg.MigrationBatchSize)
		} else {
			logger.Info("migration disabled (EVLOG_MIGRATION_INTERVAL=0)")
		}

		if e.cfg.CompactionInterval > 0 {
			compactor := compaction.New(compaction.ColdTarget{Store: e.cold}, e.cfg.CompactionPageSize, e.pub, logger)
			s := schedule.New("compaction", compactor.Job, e.cfg.CompactionInterval, logger)
			s.Start()
			schedulers = append(schedulers, s)
			logger.Info("compaction scheduler started",
				"interval", e.cfg.CompactionInterval, "page_size", e.cfg.CompactionPageSize)
		}

		logger.Info("evlog started",
			"mongo_database", e.cfg.MongoDatabase,
			"mongo_collection", e.cfg.MongoCollection,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Running jobs see their context cancelled and stop between batches.
		for _, s := range schedulers {
			s.Stop()
		}
		logger.Info("schedulers stopped")

		// The deferred close releases the publisher and both stores.
		return nil
	},
}
