package linkstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shortenerhq/shortener/errorsx"
)

func TestMemoryStore_InsertThenConflictByCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	link := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	kind, inserted, err := store.InsertIfAbsent(ctx, link)
	if err != nil || kind != errorsx.Inserted {
		t.Fatalf("expected Inserted, got kind=%v err=%v", kind, err)
	}
	if inserted.ID == 0 {
		t.Fatalf("expected assigned ID")
	}

	dup := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/different", IsActive: true}
	kind, existing, err := store.InsertIfAbsent(ctx, dup)
	if err != nil || kind != errorsx.ConflictByCode {
		t.Fatalf("expected ConflictByCode, got kind=%v err=%v", kind, err)
	}
	if existing.CanonicalURL != "https://example.com/a" {
		t.Fatalf("expected conflicting row returned, got %+v", existing)
	}
}

func TestMemoryStore_InsertThenConflictByCanonical(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	link := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	if _, _, err := store.InsertIfAbsent(ctx, link); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := &ShortLink{TenantID: 1, Code: "zzz9999999", CanonicalURL: "https://example.com/a", IsActive: true}
	kind, existing, err := store.InsertIfAbsent(ctx, dup)
	if err != nil || kind != errorsx.ConflictByCanonical {
		t.Fatalf("expected ConflictByCanonical, got kind=%v err=%v", kind, err)
	}
	if existing.Code != "abc1234567" {
		t.Fatalf("expected conflicting row returned, got %+v", existing)
	}
}

func TestMemoryStore_ReinsertAfterSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	link := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	kind, inserted, err := store.InsertIfAbsent(ctx, link)
	if err != nil || kind != errorsx.Inserted {
		t.Fatalf("unexpected initial insert result: kind=%v err=%v", kind, err)
	}

	if err := store.SoftDelete(ctx, 1, inserted.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	again := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	kind, _, err = store.InsertIfAbsent(ctx, again)
	if err != nil || kind != errorsx.Inserted {
		t.Fatalf("expected re-insert to succeed after soft delete, got kind=%v err=%v", kind, err)
	}
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	link1 := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	if _, _, err := store.InsertIfAbsent(ctx, link1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := store.FindLiveByCode(ctx, 2, "abc1234567")
	if !errors.Is(err, errorsx.NotFound) {
		t.Fatalf("expected NotFound under a different tenant, got %v", err)
	}
}

func TestMemoryStore_IncrementClickCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	link := &ShortLink{TenantID: 1, Code: "abc1234567", CanonicalURL: "https://example.com/a", IsActive: true}
	_, inserted, _ := store.InsertIfAbsent(ctx, link)

	for i := 0; i < 5; i++ {
		if err := store.IncrementClickCount(ctx, 1, inserted.ID, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := store.GetByID(ctx, 1, inserted.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ClickCount != 5 {
		t.Fatalf("got click count %d, want 5", got.ClickCount)
	}
}

func TestShortLink_IsLive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		link ShortLink
		want bool
	}{
		{"active, no expiry", ShortLink{IsActive: true}, true},
		{"deleted", ShortLink{IsActive: true, Deleted: true}, false},
		{"inactive", ShortLink{IsActive: false}, false},
		{"expired", ShortLink{IsActive: true, ExpiresAt: &past}, false},
		{"not yet expired", ShortLink{IsActive: true, ExpiresAt: &future}, true},
		{"at max clicks", ShortLink{IsActive: true, ClickCount: 10, Metadata: map[string]any{"maxClicks": int64(10)}}, false},
		{"under max clicks", ShortLink{IsActive: true, ClickCount: 9, Metadata: map[string]any{"maxClicks": int64(10)}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.link.IsLive(now); got != c.want {
				t.Fatalf("IsLive() = %v, want %v", got, c.want)
			}
		})
	}
}
