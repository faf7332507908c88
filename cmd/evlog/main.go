package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/trackdechets/eventlog/internal/ui"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:          "evlog <command>",
	Short:        "Activity event log: append, read, migrate and compact event streams",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if jsonOutput || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Events
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)

	// Maintenance
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(indexCmd)

	// System
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
