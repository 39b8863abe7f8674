package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/events"
	"github.com/shortenerhq/shortener/linkstore"
)

func seedLink(t *testing.T, store *linkstore.MemoryStore, tenantID int64) *linkstore.ShortLink {
	t.Helper()
	kind, link, err := store.InsertIfAbsent(context.Background(), &linkstore.ShortLink{
		TenantID:     tenantID,
		Code:         "abc123XYZ1",
		OriginalURL:  "https://example.com/",
		CanonicalURL: "https://example.com/",
		CreatorID:    1,
		IsActive:     true,
	})
	if kind != errorsx.Inserted || err != nil {
		t.Fatalf("seed failed: kind=%v err=%v", kind, err)
	}
	return link
}

type fakeMetrics struct {
	duplicates int
}

func (f *fakeMetrics) TrackAggregatorDuplicate() { f.duplicates++ }

func newTestAggregator(t *testing.T, store linkstore.Store) (*Aggregator, *fakeDB, *fakeMetrics) {
	t.Helper()
	db := newFakeDB()
	metrics := &fakeMetrics{}
	agg := New(db, store, nil, DefaultConfig(), zerolog.Nop(), metrics)
	return agg, db, metrics
}

func TestProcessEvent_IdempotentOnDuplicateEventID(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, 1)
	agg, db, metrics := newTestAggregator(t, store)

	now := time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC)
	event := events.ClickEvent{EventID: "evt-1", LinkID: link.ID, TenantID: 1, EmittedAt: now, Country: "US"}

	if err := agg.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := agg.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("replayed process: %v", err)
	}

	if metrics.duplicates != 1 {
		t.Fatalf("got duplicate metric count=%d, want 1", metrics.duplicates)
	}

	key := rollupKey{linkID: link.ID, windowStart: now.UTC().Truncate(time.Hour)}
	row := db.rollups[key]
	if row.totalClicks != 1 {
		t.Fatalf("got total_clicks=%d, want 1 after replaying the same event id", row.totalClicks)
	}

	updated, err := store.GetByID(context.Background(), 1, link.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.ClickCount != 1 {
		t.Fatalf("got click_count=%d, want 1", updated.ClickCount)
	}
}

func TestProcessEvent_AccumulatesAcrossDistinctEvents(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, 1)
	agg, db, _ := newTestAggregator(t, store)

	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	countries := []string{"US", "US", "GB", "DE"}
	for i, country := range countries {
		event := events.ClickEvent{
			EventID: fmt.Sprintf("evt-%d", i), LinkID: link.ID, TenantID: 1,
			EmittedAt: now, Country: country, DeviceClass: "desktop",
		}
		if err := agg.ProcessEvent(context.Background(), event); err != nil {
			t.Fatalf("process event %d: %v", i, err)
		}
	}

	key := rollupKey{linkID: link.ID, windowStart: now.UTC().Truncate(time.Hour)}
	row := db.rollups[key]
	if row.totalClicks != int64(len(countries)) {
		t.Fatalf("got total_clicks=%d, want %d", row.totalClicks, len(countries))
	}
}

func TestProcessEvent_SeparateWindowsDoNotShareRollups(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, 1)
	agg, db, _ := newTestAggregator(t, store)

	hourOne := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)
	hourTwo := time.Date(2026, 3, 5, 11, 5, 0, 0, time.UTC)

	if err := agg.ProcessEvent(context.Background(), events.ClickEvent{EventID: "a", LinkID: link.ID, TenantID: 1, EmittedAt: hourOne}); err != nil {
		t.Fatalf("hour one: %v", err)
	}
	if err := agg.ProcessEvent(context.Background(), events.ClickEvent{EventID: "b", LinkID: link.ID, TenantID: 1, EmittedAt: hourTwo}); err != nil {
		t.Fatalf("hour two: %v", err)
	}

	updated, err := store.GetByID(context.Background(), 1, link.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.ClickCount != 2 {
		t.Fatalf("got click_count=%d, want 2 across two distinct hourly windows", updated.ClickCount)
	}

	for _, start := range []time.Time{hourOne.UTC().Truncate(time.Hour), hourTwo.UTC().Truncate(time.Hour)} {
		if row := db.rollups[rollupKey{linkID: link.ID, windowStart: start}]; row.totalClicks != 1 {
			t.Fatalf("got total_clicks=%d for window %v, want 1", row.totalClicks, start)
		}
	}
}

// TestProcessEvent_DuplicatesWithinLargeWindowDoNotInflateTotal processes
// 1000 event deliveries for one link within a single hour window, 10 of
// which repeat event ids already delivered, and checks total_clicks lands
// on exactly 990 — the duplicate deliveries must be idempotent no-ops.
func TestProcessEvent_DuplicatesWithinLargeWindowDoNotInflateTotal(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, 1)
	agg, db, dupMetrics := newTestAggregator(t, store)

	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	var deliveries []string
	for i := 0; i < 990; i++ {
		deliveries = append(deliveries, fmt.Sprintf("evt-%d", i))
	}
	for i := 0; i < 10; i++ {
		deliveries = append(deliveries, deliveries[i])
	}

	for _, id := range deliveries {
		event := events.ClickEvent{EventID: id, LinkID: link.ID, TenantID: 1, EmittedAt: now, Country: "US", Referrer: "https://news.example/"}
		if err := agg.ProcessEvent(context.Background(), event); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}

	if dupMetrics.duplicates != 10 {
		t.Fatalf("got duplicate metric count=%d, want 10", dupMetrics.duplicates)
	}

	key := rollupKey{linkID: link.ID, windowStart: now.UTC().Truncate(time.Hour)}
	row := db.rollups[key]
	if row.totalClicks != 990 {
		t.Fatalf("got total_clicks=%d, want 990 after 1000 deliveries with 10 duplicates", row.totalClicks)
	}

	updated, err := store.GetByID(context.Background(), 1, link.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.ClickCount != 990 {
		t.Fatalf("got denormalized click_count=%d, want 990", updated.ClickCount)
	}
}

func TestProcessEvent_HeavyHittersAndDeviceClassesTracked(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, 1)
	agg, db, _ := newTestAggregator(t, store)

	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	samples := []events.ClickEvent{
		{EventID: "e1", LinkID: link.ID, TenantID: 1, EmittedAt: now, Country: "US", DeviceClass: "mobile"},
		{EventID: "e2", LinkID: link.ID, TenantID: 1, EmittedAt: now, Country: "US", DeviceClass: "desktop"},
		{EventID: "e3", LinkID: link.ID, TenantID: 1, EmittedAt: now, Country: "GB", DeviceClass: "mobile"},
	}
	for _, event := range samples {
		if err := agg.ProcessEvent(context.Background(), event); err != nil {
			t.Fatalf("process %s: %v", event.EventID, err)
		}
	}

	key := rollupKey{linkID: link.ID, windowStart: now.UTC().Truncate(time.Hour)}
	row := db.rollups[key]

	var topCountries []struct {
		Label string `json:"label"`
		Count int64  `json:"count"`
	}
	if err := json.Unmarshal(row.topCountries, &topCountries); err != nil {
		t.Fatalf("unmarshal top_countries: %v", err)
	}
	if len(topCountries) == 0 || topCountries[0].Label != "US" || topCountries[0].Count != 2 {
		t.Fatalf("got top countries %+v, want US leading with count 2", topCountries)
	}

	var deviceClasses map[string]int64
	if err := json.Unmarshal(row.deviceClasses, &deviceClasses); err != nil {
		t.Fatalf("unmarshal device_classes: %v", err)
	}
	if deviceClasses["mobile"] != 2 || deviceClasses["desktop"] != 1 {
		t.Fatalf("got device classes %+v, want mobile=2 desktop=1", deviceClasses)
	}
}
