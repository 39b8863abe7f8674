// Package resolver implements the redirect hot path: given (tenant,
// code), return the destination if the link is live. It never blocks on
// telemetry or counter writes.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/linkstore"
	"github.com/shortenerhq/shortener/shortcode"
)

// Snapshot is what a cache fronting the resolver needs to answer a
// resolve without touching storage (spec §4.6).
type Snapshot struct {
	LinkID      int64
	Destination string
	IsActive    bool
	ExpiresAt   *time.Time
	MaxClicks   *int64
	ClickCount  int64
}

// IsLive mirrors linkstore.ShortLink.IsLive for cached snapshots.
func (s Snapshot) IsLive(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	if s.MaxClicks != nil && s.ClickCount >= *s.MaxClicks {
		return false
	}
	return true
}

// SnapshotFromLink builds the cache-ready projection of a stored link.
// Used by Cache implementations when populating on a store read.
func SnapshotFromLink(link *linkstore.ShortLink) Snapshot {
	snap := Snapshot{
		LinkID:      link.ID,
		Destination: link.OriginalURL,
		IsActive:    link.IsActive,
		ExpiresAt:   link.ExpiresAt,
		ClickCount:  link.ClickCount,
	}
	if max, ok := link.MaxClicks(); ok {
		snap.MaxClicks = &max
	}
	return snap
}

// Cache is the narrow read-through interface the resolver depends on.
// A miss is reported with errorsx.NotFound.
type Cache interface {
	Get(ctx context.Context, tenantID int64, code string) (Snapshot, error)
	Put(ctx context.Context, tenantID int64, code string, link *linkstore.ShortLink)
}

// Resolver answers resolve(tenant, code, now).
type Resolver struct {
	store  linkstore.Store
	cache  Cache
	logger zerolog.Logger
}

func New(store linkstore.Store, cache Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger.With().Str("component", "resolver").Logger()}
}

// Result is the outcome of a successful resolve.
type Result struct {
	LinkID      int64
	Destination string
}

// Resolve looks up code within tenant and evaluates liveness against now.
// It fails with InvalidCode (malformed input), NotFound (no live row),
// or Gone (row exists but fails I5). If ctx's deadline elapses first it
// fails with DeadlineExceeded.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, code string, now time.Time) (*Result, error) {
	if !shortcode.ValidCode(code) {
		return nil, errorsx.InvalidCode
	}

	if r.cache != nil {
		if snap, err := r.cache.Get(ctx, tenantID, code); err == nil {
			if !snap.IsLive(now) {
				return nil, errorsx.Gone
			}
			return &Result{LinkID: snap.LinkID, Destination: snap.Destination}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errorsx.DeadlineExceeded
	}

	link, err := r.store.FindLiveByCode(ctx, tenantID, code)
	if err != nil {
		if err == errorsx.NotFound {
			return nil, errorsx.NotFound
		}
		return nil, err
	}

	if r.cache != nil {
		r.cache.Put(ctx, tenantID, code, link)
	}

	if !link.IsLive(now) {
		return nil, errorsx.Gone
	}
	return &Result{LinkID: link.ID, Destination: link.OriginalURL}, nil
}
