package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/reader"
	"github.com/trackdechets/eventlog/internal/store/storetest"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newReader() *reader.Reader {
	hot := storetest.NewHot(
		&model.Event{ID: "evt_b", StreamID: "S1", Type: "Updated", Data: json.RawMessage(`{"v":2}`), CreatedAt: t0.Add(time.Second)},
	)
	cold := storetest.NewCold(
		&model.Event{ID: "evt_a", StreamID: "S1", Type: "Created", Data: json.RawMessage(`{"v":1}`), CreatedAt: t0},
		&model.Event{ID: "evt_c", StreamID: "S2", Type: "Created", CreatedAt: t0},
	)
	return reader.New(hot, cold, nil)
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	queries := []model.StreamQuery{{StreamID: "S1"}, {StreamID: "S2"}, {StreamID: "S9"}}
	if err := ExportJSONL(context.Background(), newReader(), queries, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 3 events
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.StreamCount != 3 || h.EventCount != 3 {
		t.Fatalf("unexpected header: %+v", h)
	}

	var ids []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string      `json:"type"`
			Data model.Event `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %s: %v", line, err)
		}
		if rec.Type != "event" {
			t.Fatalf("expected event type, got %q", rec.Type)
		}
		ids = append(ids, rec.Data.ID)
	}
	if strings.Join(ids, ",") != "evt_a,evt_b,evt_c" {
		t.Fatalf("events = %v", ids)
	}
}

// failingReader fails every read.
type failingReader struct{}

func (failingReader) Read(context.Context, []model.StreamQuery) ([][]*model.Event, error) {
	return nil, errors.New("cold store unavailable")
}

func TestExportJSONL_ReadFailure(t *testing.T) {
	var buf bytes.Buffer
	err := ExportJSONL(context.Background(), failingReader{}, []model.StreamQuery{{StreamID: "S1"}}, &buf)
	if err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written when reading fails")
	}
}

// memDestination records writes by name.
type memDestination struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (d *memDestination) Write(_ context.Context, name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.files == nil {
		d.files = make(map[string][]byte)
	}
	d.files[name] = bytes.Clone(data)
	return nil
}

func TestExporter(t *testing.T) {
	ok := &memDestination{}
	broken := &memDestination{err: errors.New("bucket not found")}
	x := NewExporter(newReader(), []Destination{ok, broken}, nil)

	res, err := x.Export(context.Background(), []model.StreamQuery{{StreamID: "S1"}, {StreamID: "S2"}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Streams != 2 || res.Events != 3 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(ok.files) != 2 {
		t.Fatalf("files = %v", ok.files)
	}
	if lines := nonEmptyLines(string(ok.files["S1.jsonl"])); len(lines) != 3 {
		t.Errorf("S1 archive has %d lines, want 3", len(lines))
	}
}

func TestExporter_PointInTimeQueriesKeepSeparateObjects(t *testing.T) {
	dest := &memDestination{}
	x := NewExporter(newReader(), []Destination{dest}, nil)

	lte := t0
	queries := []model.StreamQuery{{StreamID: "S1"}, {StreamID: "S1", Lte: &lte}, {StreamID: "S1"}}
	res, err := x.Export(context.Background(), queries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Streams != 2 || res.Events != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(dest.files) != 2 {
		t.Fatalf("files = %v", dest.files)
	}
	if lines := nonEmptyLines(string(dest.files["S1.jsonl"])); len(lines) != 3 {
		t.Errorf("S1 archive has %d lines, want 3", len(lines))
	}
	if lines := nonEmptyLines(string(dest.files["S1@20240301T100000.000Z.jsonl"])); len(lines) != 2 {
		t.Errorf("S1 point-in-time archive has %d lines, want 2", len(lines))
	}
}

func TestFileDestination(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archives")
	dest := NewFileDestination(dir)

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), "S1.jsonl", data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "S1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content mismatch: got %q", string(got))
	}
	if _, err := os.Stat(filepath.Join(dir, "S1.jsonl.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	if err := dest.Write(context.Background(), "../escape.jsonl", data); err == nil {
		t.Error("expected error for a name leaving the directory")
	}
}

func TestS3Destination(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	type put struct {
		method, path, contentType string
	}
	var (
		mu   sync.Mutex
		puts []put
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, put{r.Method, r.URL.Path, r.Header.Get("Content-Type")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest, err := NewS3Destination(context.Background(), "archive", "streams", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if got := dest.Key("S1.jsonl"); got != "streams/S1.jsonl" {
		t.Errorf("Key = %q", got)
	}
	if err := dest.Write(context.Background(), "S1.jsonl", []byte(`{"type":"header"}`+"\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 1 {
		t.Fatalf("got %d requests, want 1", len(puts))
	}
	if p := puts[0]; p.method != http.MethodPut || p.path != "/archive/streams/S1.jsonl" || p.contentType != "application/x-ndjson" {
		t.Errorf("request = %+v", p)
	}
}
