package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	Short:   "Create the cold store's stream index if missing",
	GroupID: "maintenance",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.ensureIndexed(ctx); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{
				"database":   e.cfg.MongoDatabase,
				"collection": e.cfg.MongoCollection,
				"status":     "indexed",
			})
			return nil
		}
		fmt.Printf("Indexed %s.%s\n", e.cfg.MongoDatabase, e.cfg.MongoCollection)
		return nil
	},
}
