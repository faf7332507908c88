package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05.000"

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printEventTable(e *model.Event) {
	fmt.Printf("ID:          %s\n", e.ID)
	fmt.Printf("Stream:      %s\n", e.StreamID)
	fmt.Printf("Type:        %s\n", e.Type)
	if e.Actor != "" {
		fmt.Printf("Actor:       %s\n", e.Actor)
	}
	fmt.Printf("Created At:  %s\n", e.CreatedAt.UTC().Format(timeLayout))
	if len(e.Data) > 0 {
		fmt.Printf("Data:        %s\n", e.Data)
	}
	if len(e.Metadata) > 0 {
		fmt.Printf("Metadata:    %s\n", e.Metadata)
	}
}

func printStreamTable(q model.StreamQuery, events []*model.Event) {
	title := q.StreamID
	if q.Lte != nil {
		title += " as of " + q.Lte.UTC().Format(timeLayout)
	}
	fmt.Println(ui.RenderAccent(title))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED AT\tID\tTYPE\tACTOR\tDATA")
	for _, e := range events {
		data := string(e.Data)
		if len(data) > 60 {
			data = data[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(timeLayout),
			e.ID,
			e.Type,
			e.Actor,
			data,
		)
	}
	w.Flush()
	fmt.Println(ui.RenderMuted(fmt.Sprintf("%d events", len(events))))
}

// printStats prints a flat list of counters, JSON or aligned key/values.
func printStats(title string, v any, rows [][2]string) {
	if jsonOutput {
		printJSON(v)
		return
	}
	fmt.Println(ui.RenderAccent(title))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		value := r[1]
		if strings.Contains(r[0], "fail") && value != "0" {
			value = ui.RenderFail(value)
		}
		fmt.Fprintf(w, "  %s:\t%s\n", r[0], value)
	}
	w.Flush()
}
