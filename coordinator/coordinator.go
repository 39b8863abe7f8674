// Package coordinator implements the create-or-reuse flow: canonicalize,
// check for an existing live link, derive a code, retry on collision, and
// insert — guaranteeing at most one live row per (tenant, canonical URL)
// under concurrent callers.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/canonical"
	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/linkstore"
	"github.com/shortenerhq/shortener/shortcode"
)

// CacheInvalidator is the subset of the cache the coordinator needs: a
// positive-entry populate on create, nothing else. Kept as a narrow
// interface so tests don't need a real cache.
type CacheInvalidator interface {
	Put(ctx context.Context, tenantID int64, code string, link *linkstore.ShortLink)
}

// Coordinator orchestrates C1 -> C3 -> C2 -> C3 per spec §4.4.
type Coordinator struct {
	store   linkstore.Store
	cache   CacheInvalidator
	logger  zerolog.Logger
	locks   *keyedMutex
	maxSalt uint64
}

// New builds a Coordinator. cache may be nil (tests, or a deployment that
// accepts the extra read-through miss on the first resolve). The
// collision-retry bound defaults to shortcode.MaxSalt; override it with
// SetMaxSalt (spec §6's collision_max_salt configuration option).
func New(store linkstore.Store, cache CacheInvalidator, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		cache:   cache,
		logger:  logger.With().Str("component", "coordinator").Logger(),
		locks:   newKeyedMutex(),
		maxSalt: shortcode.MaxSalt,
	}
}

// SetMaxSalt overrides the collision-retry bound used by Create.
func (c *Coordinator) SetMaxSalt(n uint64) {
	c.maxSalt = n
}

// Request carries the inputs to Create. CustomCode, ExpiresAt, and
// Metadata are all optional.
type Request struct {
	TenantID   int64
	RawURL     string
	CreatorID  int64
	CustomCode string
	ExpiresAt  *time.Time
	Metadata   map[string]any
}

// Result reports the link plus whether it was freshly created (false
// means an equivalent live link already existed and was returned as-is).
type Result struct {
	Link    *linkstore.ShortLink
	Created bool
}

// Create runs the full canonicalize -> lookup -> derive -> retry -> insert
// procedure. ctx's deadline, if any, is honored between each storage
// round-trip; on expiry Create returns errorsx.DeadlineExceeded without
// having populated the cache.
func (c *Coordinator) Create(ctx context.Context, req Request) (*Result, error) {
	canon, err := canonical.Canonicalize(req.RawURL)
	if err != nil {
		return nil, err
	}

	if req.CustomCode != "" {
		return c.createWithCustomCode(ctx, req, canon)
	}

	// Fast path: an equivalent link already exists. No counters advance,
	// no row is created — repeated calls with equivalent inputs are free.
	if existing, err := c.store.FindLiveByCanonical(ctx, req.TenantID, canon); err == nil {
		return &Result{Link: existing, Created: false}, nil
	} else if err != errorsx.NotFound {
		return nil, err
	}

	key := lockKey(req.TenantID, canon)
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	// Re-check under the lock: another in-process caller may have just
	// inserted the same (tenant, canonical) pair while we waited.
	if existing, err := c.store.FindLiveByCanonical(ctx, req.TenantID, canon); err == nil {
		return &Result{Link: existing, Created: false}, nil
	} else if err != errorsx.NotFound {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errorsx.DeadlineExceeded
	}

	for salt := uint64(0); salt <= c.maxSalt; salt++ {
		if err := ctx.Err(); err != nil {
			return nil, errorsx.DeadlineExceeded
		}
		code := shortcode.Derive(canon, fmt.Sprintf("%d", req.TenantID), salt)
		link := &linkstore.ShortLink{
			TenantID:     req.TenantID,
			Code:         code,
			OriginalURL:  req.RawURL,
			CanonicalURL: canon,
			CreatorID:    req.CreatorID,
			IsActive:     true,
			ExpiresAt:    req.ExpiresAt,
			Metadata:     req.Metadata,
		}

		kind, existing, err := c.store.InsertIfAbsent(ctx, link)
		if err != nil {
			return nil, err
		}

		switch kind {
		case errorsx.Inserted:
			c.populateCache(ctx, req.TenantID, link)
			return &Result{Link: link, Created: true}, nil

		case errorsx.ConflictByCode:
			if existing.CanonicalURL == canon {
				// A concurrent equivalent create won the race.
				c.populateCache(ctx, req.TenantID, existing)
				return &Result{Link: existing, Created: false}, nil
			}
			c.logger.Warn().Int64("tenant_id", req.TenantID).Str("code", code).Uint64("salt", salt).
				Msg("short code collision, retrying with next salt")
			continue

		case errorsx.ConflictByCanonical:
			reread, err := c.store.FindLiveByCanonical(ctx, req.TenantID, canon)
			if err != nil {
				return nil, err
			}
			c.populateCache(ctx, req.TenantID, reread)
			return &Result{Link: reread, Created: false}, nil
		}
	}

	c.logger.Error().Int64("tenant_id", req.TenantID).Str("canonical", canon).
		Msg("collision retry exhausted all salts")
	return nil, errorsx.CollisionUnresolved
}

func (c *Coordinator) createWithCustomCode(ctx context.Context, req Request, canon string) (*Result, error) {
	if !shortcode.ValidCode(req.CustomCode) {
		return nil, errorsx.InvalidCode
	}

	link := &linkstore.ShortLink{
		TenantID:     req.TenantID,
		Code:         req.CustomCode,
		OriginalURL:  req.RawURL,
		CanonicalURL: canon,
		CreatorID:    req.CreatorID,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	}

	kind, _, err := c.store.InsertIfAbsent(ctx, link)
	if err != nil {
		return nil, err
	}
	if kind == errorsx.ConflictByCode {
		return nil, errorsx.CodeTaken
	}
	if kind == errorsx.ConflictByCanonical {
		// A live link already exists for this canonical URL under a
		// different code; custom codes bypass reuse, so this is still
		// a conflict from the caller's point of view.
		return nil, errorsx.CodeTaken
	}

	c.populateCache(ctx, req.TenantID, link)
	return &Result{Link: link, Created: true}, nil
}

func (c *Coordinator) populateCache(ctx context.Context, tenantID int64, link *linkstore.ShortLink) {
	if c.cache == nil {
		return
	}
	c.cache.Put(ctx, tenantID, link.Code, link)
}

func lockKey(tenantID int64, canonical string) string {
	return fmt.Sprintf("%d|%s", tenantID, canonical)
}
