// Package admin implements the tenant-scoped management operations over
// linkstore.Store: list, get by id, get by code, metadata patch, and
// soft-delete. Every mutating call invalidates the resolver's cache entry
// so a stale redirect never outlives the edit that made it wrong.
package admin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/linkstore"
)

// CacheInvalidator is the subset of cache.Cache admin needs: invalidate a
// single (tenant, code) entry after a write. Narrow so tests don't need a
// real cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID int64, code string)
}

// Service wraps linkstore.Store with the admin-surface operations.
type Service struct {
	store  linkstore.Store
	cache  CacheInvalidator
	logger zerolog.Logger
}

// New builds a Service. cache may be nil in tests or single-box
// deployments that accept the extra read-through miss after an edit.
func New(store linkstore.Store, cache CacheInvalidator, logger zerolog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger.With().Str("component", "admin").Logger()}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// List returns a page of links for the tenant, newest first. page is
// 1-indexed; pageSize is clamped to [1, maxPageSize].
func (s *Service) List(ctx context.Context, tenantID int64, page, pageSize int) ([]*linkstore.ShortLink, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.store.List(ctx, tenantID, page-1, pageSize)
}

// GetByID returns a single link regardless of liveness — the admin
// surface shows deleted/expired links too, unlike the redirect path.
func (s *Service) GetByID(ctx context.Context, tenantID, id int64) (*linkstore.ShortLink, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// GetByCode returns the live link occupying a code, used by the
// by-code admin lookup endpoint.
func (s *Service) GetByCode(ctx context.Context, tenantID int64, code string) (*linkstore.ShortLink, error) {
	return s.store.FindLiveByCode(ctx, tenantID, code)
}

// UpdateMetadata applies a non-destructive patch and invalidates the
// cached redirect entry so the change is visible on the next resolve.
func (s *Service) UpdateMetadata(ctx context.Context, tenantID, id int64, patch linkstore.MetadataPatch) (*linkstore.ShortLink, error) {
	link, err := s.store.UpdateMetadata(ctx, tenantID, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenantID, link.Code)
	return link, nil
}

// SoftDelete marks a link deleted and invalidates its cached entry.
func (s *Service) SoftDelete(ctx context.Context, tenantID, id int64) error {
	link, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, link.Code)
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID int64, code string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, tenantID, code)
}
