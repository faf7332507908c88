package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/export"
	"github.com/trackdechets/eventlog/internal/reader"
)

var exportCmd = &cobra.Command{
	Use:   "export <stream-id[@lte]>...",
	Short: "Archive streams as JSONL",
	Long: `Write the merged events of each stream as a JSONL archive.

Archives go to the S3 bucket (EVLOG_EXPORT_S3_BUCKET) and the local
directory (EVLOG_EXPORT_DIR or --dir) that are configured, one
<stream-id>.jsonl object per stream. With --stdout a single archive of all
streams is written to standard output instead.`,
	GroupID: "events",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toStdout, _ := cmd.Flags().GetBool("stdout")
		dir, _ := cmd.Flags().GetString("dir")

		queries, err := parseQueries(args)
		if err != nil {
			return err
		}

		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		r := reader.New(e.hot, e.cold, e.logger)
		if toStdout {
			return export.ExportJSONL(ctx, r, queries, os.Stdout)
		}

		if dir == "" {
			dir = e.cfg.ExportDir
		}
		var dests []export.Destination
		if e.cfg.ExportS3Bucket != "" {
			s3Dest, err := export.NewS3Destination(ctx,
				e.cfg.ExportS3Bucket,
				e.cfg.ExportS3Prefix,
				e.cfg.ExportS3Region,
				e.cfg.ExportS3Endpoint,
			)
			if err != nil {
				return err
			}
			dests = append(dests, s3Dest)
			e.logger.Debug("export S3 destination enabled", "bucket", e.cfg.ExportS3Bucket, "prefix", e.cfg.ExportS3Prefix)
		}
		if dir != "" {
			dests = append(dests, export.NewFileDestination(dir))
			e.logger.Debug("export file destination enabled", "dir", dir)
		}
		if len(dests) == 0 {
			return errors.New("no export destination: set EVLOG_EXPORT_S3_BUCKET or EVLOG_EXPORT_DIR, or use --dir or --stdout")
		}

		res, err := export.NewExporter(r, dests, e.logger).Export(ctx, queries)
		if err != nil {
			return err
		}
		printStats("Export", res, [][2]string{
			{"streams", fmt.Sprint(res.Streams)},
			{"events", fmt.Sprint(res.Events)},
			{"bytes", fmt.Sprint(res.Bytes)},
			{"failed writes", fmt.Sprint(res.Failed)},
		})
		if res.Failed > 0 {
			return fmt.Errorf("%d destination writes failed", res.Failed)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("stdout", false, "write one archive of all streams to standard output")
	exportCmd.Flags().String("dir", "", "write archives to this directory (overrides EVLOG_EXPORT_DIR)")
}
