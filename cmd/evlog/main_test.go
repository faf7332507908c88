package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseQueries(t *testing.T) {
	queries, err := parseQueries([]string{"S1", "S2@2024-03-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("parseQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries", len(queries))
	}
	if queries[0].StreamID != "S1" || queries[0].Lte != nil {
		t.Errorf("queries[0] = %+v", queries[0])
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if queries[1].StreamID != "S2" || queries[1].Lte == nil || !queries[1].Lte.Equal(want) {
		t.Errorf("queries[1] = %+v", queries[1])
	}

	if _, err := parseQueries([]string{"S1@yesterday"}); err == nil {
		t.Error("expected error for a malformed instant")
	}
	if _, err := parseQueries([]string{"@2024-03-01T10:00:00Z"}); err == nil {
		t.Error("expected error for an empty stream id")
	}
}

func TestCommandsAreGrouped(t *testing.T) {
	groups := map[string]bool{}
	for _, g := range rootCmd.Groups() {
		groups[g.ID] = true
	}
	for _, cmd := range rootCmd.Commands() {
		if cmd.GroupID == "" {
			continue
		}
		if !groups[cmd.GroupID] {
			t.Errorf("command %q uses unknown group %q", cmd.Name(), cmd.GroupID)
		}
	}

	for _, name := range []string{"append", "stream", "export", "watch", "migrate", "compact", "index", "serve"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestColorizeHelpOutput_KeepsText(t *testing.T) {
	in := "Events:\n  stream      Read the merged events\n\nFlags:\n      --from string   resume (default \"\")\n"
	out := colorizeHelpOutput(in)
	for _, s := range []string{"Events:", "stream", "Read the merged events", "--from", "string"} {
		if !strings.Contains(out, s) {
			t.Errorf("output lost %q:\n%s", s, out)
		}
	}
}
