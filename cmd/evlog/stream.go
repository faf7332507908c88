package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/reader"
)

// streamResult is the JSON shape of one answered query.
type streamResult struct {
	StreamID string         `json:"stream_id"`
	Lte      string         `json:"lte,omitempty"`
	Events   []*model.Event `json:"events"`
}

func parseQueries(args []string) ([]model.StreamQuery, error) {
	queries := make([]model.StreamQuery, 0, len(args))
	for _, arg := range args {
		q, err := model.ParseStreamQuery(arg)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

var streamCmd = &cobra.Command{
	Use:   "stream <stream-id[@lte]>...",
	Short: "Read the merged events of one or more streams",
	Long: `Read streams across the hot and cold stores.

Each argument is a stream id, optionally followed by @ and an RFC 3339
instant to read the stream as it was at that time (inclusive):

  evlog stream BSDA-20240301-XYZ
  evlog stream BSDA-20240301-XYZ@2024-03-02T12:00:00Z`,
	GroupID: "events",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		loader := reader.NewLoader(ctx, r.Read, reader.LoaderOptions{})
		results, err := loader.LoadMany(ctx, queries)
		if err != nil {
			return err
		}

		if jsonOutput {
			out := make([]streamResult, len(queries))
			for i, q := range queries {
				out[i] = streamResult{StreamID: q.StreamID, Events: results[i]}
				if q.Lte != nil {
					out[i].Lte = q.Lte.UTC().Format(time.RFC3339Nano)
				}
			}
			printJSON(out)
			return nil
		}
		for i, q := range queries {
			if i > 0 {
				fmt.Println()
			}
			printStreamTable(q, results[i])
		}
		return nil
	},
}
