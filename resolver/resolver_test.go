package resolver

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/linkstore"
)

func seedLink(t *testing.T, store *linkstore.MemoryStore, link *linkstore.ShortLink) *linkstore.ShortLink {
	t.Helper()
	kind, inserted, err := store.InsertIfAbsent(context.Background(), link)
	if err != nil || kind != errorsx.Inserted {
		t.Fatalf("seed failed: kind=%v err=%v", kind, err)
	}
	return inserted
}

func TestResolve_LiveLink(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, &linkstore.ShortLink{TenantID: 1, Code: "abc1234567", OriginalURL: "https://example.com/page", IsActive: true})

	r := New(store, nil, zerolog.Nop())
	result, err := r.Resolve(context.Background(), 1, link.Code, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Destination != "https://example.com/page" {
		t.Fatalf("got %q", result.Destination)
	}
}

func TestResolve_NotFound(t *testing.T) {
	store := linkstore.NewMemoryStore()
	r := New(store, nil, zerolog.Nop())

	_, err := r.Resolve(context.Background(), 1, "abc1234567", time.Now())
	if !errors.Is(err, errorsx.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolve_InvalidCode(t *testing.T) {
	store := linkstore.NewMemoryStore()
	r := New(store, nil, zerolog.Nop())

	_, err := r.Resolve(context.Background(), 1, "bad", time.Now())
	if !errors.Is(err, errorsx.InvalidCode) {
		t.Fatalf("expected InvalidCode, got %v", err)
	}
}

func TestResolve_GoneWhenExpired(t *testing.T) {
	store := linkstore.NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	link := seedLink(t, store, &linkstore.ShortLink{TenantID: 1, Code: "abc1234567", OriginalURL: "https://example.com/page", IsActive: true, ExpiresAt: &past})

	r := New(store, nil, zerolog.Nop())
	_, err := r.Resolve(context.Background(), 1, link.Code, time.Now())
	if !errors.Is(err, errorsx.Gone) {
		t.Fatalf("expected Gone, got %v", err)
	}
}

func TestResolve_GoneWhenDeactivated(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, &linkstore.ShortLink{TenantID: 1, Code: "abc1234567", OriginalURL: "https://example.com/page", IsActive: false})

	r := New(store, nil, zerolog.Nop())
	_, err := r.Resolve(context.Background(), 1, link.Code, time.Now())
	if !errors.Is(err, errorsx.Gone) {
		t.Fatalf("expected Gone, got %v", err)
	}
}

func TestResolve_TenantIsolation(t *testing.T) {
	store := linkstore.NewMemoryStore()
	link := seedLink(t, store, &linkstore.ShortLink{TenantID: 1, Code: "abc1234567", OriginalURL: "https://example.com/page", IsActive: true})

	r := New(store, nil, zerolog.Nop())
	_, err := r.Resolve(context.Background(), 2, link.Code, time.Now())
	if !errors.Is(err, errorsx.NotFound) {
		t.Fatalf("expected NotFound under a different tenant, got %v", err)
	}
}

func TestResolve_DeadlineExceeded(t *testing.T) {
	store := linkstore.NewMemoryStore()
	seedLink(t, store, &linkstore.ShortLink{TenantID: 1, Code: "abc1234567", OriginalURL: "https://example.com/page", IsActive: true})

	r := New(store, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, 1, "abc1234567", time.Now())
	if !errors.Is(err, errorsx.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

// fakeCache is a minimal in-memory Cache used to exercise the read-through path.
type fakeCache struct {
	entries map[string]Snapshot
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]Snapshot{}} }

func (f *fakeCache) key(tenantID int64, code string) string {
	return strconv.FormatInt(tenantID, 10) + "|" + code
}

func (f *fakeCache) Get(ctx context.Context, tenantID int64, code string) (Snapshot, error) {
	snap, ok := f.entries[f.key(tenantID, code)]
	if !ok {
		return Snapshot{}, errorsx.NotFound
	}
	return snap, nil
}

func (f *fakeCache) Put(ctx context.Context, tenantID int64, code string, link *linkstore.ShortLink) {
	f.entries[f.key(tenantID, code)] = SnapshotFromLink(link)
}

func TestResolve_CacheHitAvoidsStoreRead(t *testing.T) {
	store := linkstore.NewMemoryStore()
	store.FailWith(errorsx.StorageUnavailable)

	cache := newFakeCache()
	cache.entries[cache.key(1, "abc1234567")] = Snapshot{LinkID: 42, Destination: "https://example.com/page", IsActive: true}

	r := New(store, cache, zerolog.Nop())
	result, err := r.Resolve(context.Background(), 1, "abc1234567", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LinkID != 42 {
		t.Fatalf("got link id %d, want 42", result.LinkID)
	}
}
