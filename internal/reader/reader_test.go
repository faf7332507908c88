package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/trackdechets/eventlog/internal/migration"
	"github.com/trackdechets/eventlog/internal/model"
	"github.com/trackdechets/eventlog/internal/store"
	"github.com/trackdechets/eventlog/internal/store/storetest"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func ev(id, stream string, offset time.Duration) *model.Event {
	return &model.Event{
		ID:        id,
		StreamID:  stream,
		Type:      "Updated",
		Data:      json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		CreatedAt: t0.Add(offset),
	}
}

func at(offset time.Duration) *time.Time {
	t := t0.Add(offset)
	return &t
}

func assertIDs(t *testing.T, label string, got []*model.Event, want ...string) {
	t.Helper()
	ids := model.EventIDs(got)
	if !slices.Equal(ids, want) {
		t.Errorf("%s = %v, want %v", label, ids, want)
	}
}

func TestRead_MergesAndDeduplicates(t *testing.T) {
	// evt_b was copied to cold but its hot delete has not happened yet.
	cold := storetest.NewCold(ev("evt_a", "S1", 0), ev("evt_b", "S1", time.Second))
	hot := storetest.NewHot(ev("evt_b", "S1", time.Second), ev("evt_c", "S1", 2*time.Second))
	r := New(hot, cold, nil)

	got, err := r.ReadStream(context.Background(), model.StreamQuery{StreamID: "S1"})
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	assertIDs(t, "S1", got, "evt_a", "evt_b", "evt_c")
}

func TestRead_OrderAcrossStores(t *testing.T) {
	// Hot events may be older than cold ones; ties on created_at are broken
	// by id.
	cold := storetest.NewCold(ev("evt_d", "S1", 3*time.Second), ev("evt_b", "S1", time.Second))
	hot := storetest.NewHot(ev("evt_c", "S1", time.Second), ev("evt_a", "S1", 0))
	r := New(hot, cold, nil)

	got, err := r.ReadStream(context.Background(), model.StreamQuery{StreamID: "S1"})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, "S1", got, "evt_a", "evt_b", "evt_c", "evt_d")
	for i := 1; i < len(got); i++ {
		if model.Compare(got[i-1], got[i]) >= 0 {
			t.Fatalf("events %d and %d out of order", i-1, i)
		}
	}
}

func TestRead_PointInTime(t *testing.T) {
	cold := storetest.NewCold(ev("evt_a", "S1", 0))
	hot := storetest.NewHot(ev("evt_b", "S1", time.Second), ev("evt_c", "S1", 2*time.Second))
	r := New(hot, cold, nil)

	got, err := r.ReadStream(context.Background(), model.StreamQuery{StreamID: "S1", Lte: at(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	// The bound is inclusive.
	assertIDs(t, "S1@1s", got, "evt_a", "evt_b")
}

func TestRead_BatchKeys(t *testing.T) {
	cold := storetest.NewCold(ev("evt_a", "S1", 0), ev("evt_x", "S2", 0))
	hot := storetest.NewHot(ev("evt_b", "S1", time.Second), ev("evt_c", "S1", 2*time.Second))
	r := New(hot, cold, nil)

	queries := []model.StreamQuery{
		{StreamID: "S1"},
		{StreamID: "S1", Lte: at(time.Second)},
		{StreamID: "S2"},
		{StreamID: "S3"},
		{StreamID: "S1"},
	}
	out, err := r.Read(context.Background(), queries)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(queries) {
		t.Fatalf("got %d results for %d queries", len(out), len(queries))
	}
	assertIDs(t, "S1", out[0], "evt_a", "evt_b", "evt_c")
	assertIDs(t, "S1@1s", out[1], "evt_a", "evt_b")
	assertIDs(t, "S2", out[2], "evt_x")
	if out[3] == nil || len(out[3]) != 0 {
		t.Errorf("unknown stream = %#v, want empty non-nil slice", out[3])
	}
	assertIDs(t, "S1 again", out[4], "evt_a", "evt_b", "evt_c")

	// Results of duplicate keys are independent.
	out[0][0] = nil
	if out[4][0] == nil {
		t.Error("duplicate keys share a result slice")
	}
}

func TestRead_BoundedByLatestLte(t *testing.T) {
	hot := storetest.NewHot(ev("evt_a", "S1", 0), ev("evt_b", "S2", time.Second), ev("evt_c", "S1", 5*time.Second))
	r := New(hot, storetest.NewCold(), nil)

	out, err := r.Read(context.Background(), []model.StreamQuery{
		{StreamID: "S1", Lte: at(0)},
		{StreamID: "S2", Lte: at(2 * time.Second)},
	})
	if err != nil {
		t.Fatal(err)
	}
	assertIDs(t, "S1@0", out[0], "evt_a")
	assertIDs(t, "S2@2s", out[1], "evt_b")
}

func TestRead_Empty(t *testing.T) {
	r := New(storetest.NewHot(), storetest.NewCold(), nil)
	out, err := r.Read(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("Read(nil) = %v, %v", out, err)
	}
}

func TestRead_StoreFailureFailsBatch(t *testing.T) {
	for _, tc := range []struct {
		name string
		fail func(hot *storetest.Hot, cold *storetest.Cold)
	}{
		{"Hot", func(hot *storetest.Hot, _ *storetest.Cold) {
			hot.Fail(storetest.OpFind, store.Unavailable("hot store", storetest.ErrInjected))
		}},
		{"Cold", func(_ *storetest.Hot, cold *storetest.Cold) {
			cold.Fail(storetest.OpFind, store.Unavailable("cold store", storetest.ErrInjected))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hot := storetest.NewHot(ev("evt_a", "S1", 0))
			cold := storetest.NewCold(ev("evt_b", "S2", 0))
			tc.fail(hot, cold)
			r := New(hot, cold, nil)

			out, err := r.Read(context.Background(), []model.StreamQuery{{StreamID: "S1"}, {StreamID: "S2"}})
			if !errors.Is(err, store.ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
			if out != nil {
				t.Errorf("partial result returned: %v", out)
			}
		})
	}
}

func TestRead_NoLossDuringMigration(t *testing.T) {
	var seeded []*model.Event
	for i := 0; i < 9; i++ {
		seeded = append(seeded, ev(fmt.Sprintf("evt_%02d", i), fmt.Sprintf("S%d", i%3), time.Duration(i)*time.Millisecond))
	}
	hot := storetest.NewHot(seeded...)
	cold := storetest.NewCold()
	r := New(hot, cold, nil)
	queries := []model.StreamQuery{{StreamID: "S0"}, {StreamID: "S1"}, {StreamID: "S2"}}

	want, err := r.Read(context.Background(), queries)
	if err != nil {
		t.Fatal(err)
	}

	check := func(step string) {
		t.Helper()
		got, err := r.Read(context.Background(), queries)
		if err != nil {
			t.Fatalf("%s: %v", step, err)
		}
		for i := range queries {
			if !slices.Equal(model.EventIDs(got[i]), model.EventIDs(want[i])) {
				t.Fatalf("%s: %s = %v, want %v", step, queries[i].StreamID, model.EventIDs(got[i]), model.EventIDs(want[i]))
			}
		}
	}

	// Copied but not deleted yet.
	hot.Fail(storetest.OpDelete, storetest.ErrInjected)
	w := migration.NewWorker(hot, cold, 4, nil, nil)
	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	check("after copy")

	// Partially migrated.
	hot.Fail(storetest.OpDelete, nil)
	if _, err := hot.DeleteByIDs(context.Background(), []string{"evt_00", "evt_04"}); err != nil {
		t.Fatal(err)
	}
	check("partially deleted")

	if _, err := w.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hot.Len() != 0 {
		t.Fatalf("hot store still holds %d events", hot.Len())
	}
	check("fully migrated")
}
