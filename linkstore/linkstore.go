// Package linkstore is the durable mapping (tenant, code) <-> (canonical
// URL, metadata). It enforces the two per-tenant uniqueness invariants at
// write time and reports which one a conflicting insert tripped.
package linkstore

import (
	"context"
	"time"

	"github.com/shortenerhq/shortener/errorsx"
)

// ShortLink is the central entity: a tenant-scoped mapping from a short
// code to a destination URL.
type ShortLink struct {
	ID           int64
	TenantID     int64
	Code         string
	OriginalURL  string
	CanonicalURL string
	CreatorID    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    *time.Time
	IsActive     bool
	ClickCount   int64
	Deleted      bool
	Metadata     map[string]any
}

// MaxClicks reads metadata["maxClicks"] if present and numeric.
func (s *ShortLink) MaxClicks() (int64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	v, ok := s.Metadata["maxClicks"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// IsLive evaluates invariant I5 against now.
func (s *ShortLink) IsLive(now time.Time) bool {
	if s.Deleted || !s.IsActive {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	if max, ok := s.MaxClicks(); ok && s.ClickCount >= max {
		return false
	}
	return true
}

// MetadataPatch is a non-destructive update: only non-nil fields are
// applied. It never touches CanonicalURL, OriginalURL, or Code.
type MetadataPatch struct {
	IsActive  *bool
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// Store is the persistence contract required by the core (spec §4.3).
// Every method fails with errorsx.StorageUnavailable on transport errors
// or errorsx.StorageConflict on an unanticipated constraint violation.
type Store interface {
	FindLiveByCanonical(ctx context.Context, tenantID int64, canonical string) (*ShortLink, error)
	FindLiveByCode(ctx context.Context, tenantID int64, code string) (*ShortLink, error)
	GetByID(ctx context.Context, tenantID, id int64) (*ShortLink, error)

	// InsertIfAbsent attempts an atomic conditional insert. It returns the
	// conflict disposition and, on ConflictByCode/ConflictByCanonical, the
	// row that already occupies that slot.
	InsertIfAbsent(ctx context.Context, link *ShortLink) (errorsx.ConflictKind, *ShortLink, error)

	UpdateMetadata(ctx context.Context, tenantID, id int64, patch MetadataPatch) (*ShortLink, error)
	SoftDelete(ctx context.Context, tenantID, id int64) error
	IncrementClickCount(ctx context.Context, tenantID, id int64, n int64) error

	List(ctx context.Context, tenantID int64, page, pageSize int) ([]*ShortLink, error)
}
