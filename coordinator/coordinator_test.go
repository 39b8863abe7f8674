package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/linkstore"
)

func newTestCoordinator() *Coordinator {
	return New(linkstore.NewMemoryStore(), nil, zerolog.Nop())
}

// S1. Canonicalization collapse.
func TestCreate_CanonicalizationCollapse(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	r1, err := c.Create(ctx, Request{TenantID: 1, RawURL: "HTTP://Example.com:80/page/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := c.Create(ctx, Request{TenantID: 1, RawURL: "http://example.com/page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1.Link.Code != r2.Link.Code {
		t.Fatalf("expected same code, got %q and %q", r1.Link.Code, r2.Link.Code)
	}
	if r2.Created {
		t.Fatalf("expected second create to reuse, not create")
	}
	if r2.Link.CanonicalURL != "http://example.com/page" {
		t.Fatalf("got canonical %q", r2.Link.CanonicalURL)
	}
}

// S2. Query ordering.
func TestCreate_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	r1, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/s?z=1&a=2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/s?a=2&z=1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1.Link.Code != r2.Link.Code {
		t.Fatalf("expected same code, got %q and %q", r1.Link.Code, r2.Link.Code)
	}
}

// S3 / P5. Tenant isolation.
func TestCreate_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	r1, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := c.Create(ctx, Request{TenantID: 2, RawURL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1.Link.Code == r2.Link.Code {
		t.Fatalf("expected different codes across tenants, both got %q", r1.Link.Code)
	}
}

// P1. Determinism.
func TestCreate_Determinism(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	first, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/page"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Link.Code != first.Link.Code {
			t.Fatalf("expected stable code, got %q then %q", first.Link.Code, again.Link.Code)
		}
		if again.Created {
			t.Fatalf("expected repeated create to reuse")
		}
	}
}

func TestCreate_RejectsInvalidURL(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	_, err := c.Create(ctx, Request{TenantID: 1, RawURL: "not a url"})
	if !errors.Is(err, errorsx.InvalidURL) {
		t.Fatalf("expected InvalidURL, got %v", err)
	}
}

func TestCreate_CustomCode(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	r, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/page", CustomCode: "MyBrand999"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Link.Code != "MyBrand999" {
		t.Fatalf("got code %q, want MyBrand999", r.Link.Code)
	}

	_, err = c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/other", CustomCode: "MyBrand999"})
	if !errors.Is(err, errorsx.CodeTaken) {
		t.Fatalf("expected CodeTaken, got %v", err)
	}
}

func TestCreate_CustomCodeRejectsInvalidAlphabet(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	_, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/page", CustomCode: "MyBrand0Il"})
	if !errors.Is(err, errorsx.InvalidCode) {
		t.Fatalf("expected InvalidCode, got %v", err)
	}
}

// S4. Collision retry: salt 0 conflicts, salt 1 succeeds.
func TestCreate_CollisionRetry(t *testing.T) {
	ctx := context.Background()
	store := &fakeCollisionStoreBySalt{conflictUpTo: 0}
	c := New(store, nil, zerolog.Nop())

	r, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Link.ID == 0 {
		t.Fatalf("expected inserted link")
	}
}

// S5. Exhaustion: every salt 0..9 conflicts.
func TestCreate_CollisionExhaustion(t *testing.T) {
	ctx := context.Background()
	store := &fakeCollisionStoreBySalt{conflictUpTo: 9}
	c := New(store, nil, zerolog.Nop())

	_, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/x"})
	if !errors.Is(err, errorsx.CollisionUnresolved) {
		t.Fatalf("expected CollisionUnresolved, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("expected no row inserted, got %d", len(store.inserted))
	}
}

// fakeCollisionStoreBySalt conflicts (with a differing canonical, i.e. a
// true collision) for every attempt whose salt is <= conflictUpTo, and
// succeeds afterward.
type fakeCollisionStoreBySalt struct {
	linkstore.Store
	conflictUpTo uint64
	attempt      uint64
	inserted     []*linkstore.ShortLink
	nextID       int64
}

func (f *fakeCollisionStoreBySalt) FindLiveByCanonical(ctx context.Context, tenantID int64, canonical string) (*linkstore.ShortLink, error) {
	return nil, errorsx.NotFound
}

func (f *fakeCollisionStoreBySalt) InsertIfAbsent(ctx context.Context, link *linkstore.ShortLink) (errorsx.ConflictKind, *linkstore.ShortLink, error) {
	salt := f.attempt
	f.attempt++
	if salt <= f.conflictUpTo {
		return errorsx.ConflictByCode, &linkstore.ShortLink{
			ID:           9000 + int64(salt),
			TenantID:     link.TenantID,
			Code:         link.Code,
			CanonicalURL: "https://example.com/different",
		}, nil
	}
	f.nextID++
	link.ID = f.nextID
	f.inserted = append(f.inserted, link)
	return errorsx.Inserted, link, nil
}

// P6. Uniqueness under concurrency.
func TestCreate_ConcurrentEquivalentCreates(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	const n = 20
	codes := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := c.Create(ctx, Request{TenantID: 1, RawURL: "https://example.com/viral"})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			codes[i] = r.Link.Code
		}(i)
	}
	wg.Wait()

	first := codes[0]
	for i, code := range codes {
		if code != first {
			t.Fatalf("caller %d saw code %q, want %q", i, code, first)
		}
	}

	store := c.store.(*linkstore.MemoryStore)
	list, err := store.List(ctx, 1, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one stored row, got %d", len(list))
	}
}
