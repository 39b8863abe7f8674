package linkstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shortenerhq/shortener/errorsx"
)

// Schema is the DDL the core requires: two partial unique indexes so the
// uniqueness invariants (I1, I2) survive re-insertion after soft delete.
const Schema = `
CREATE TABLE IF NOT EXISTS short_links (
	id            BIGSERIAL PRIMARY KEY,
	tenant_id     BIGINT NOT NULL,
	code          TEXT NOT NULL,
	original_url  TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	creator_id    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	click_count   BIGINT NOT NULL DEFAULT 0,
	deleted       BOOLEAN NOT NULL DEFAULT false,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE UNIQUE INDEX IF NOT EXISTS short_links_tenant_code_live_idx
	ON short_links (tenant_id, code) WHERE NOT deleted;

CREATE UNIQUE INDEX IF NOT EXISTS short_links_tenant_canonical_live_idx
	ON short_links (tenant_id, canonical_url) WHERE NOT deleted;
`

// PostgresStore is the Store implementation backing production traffic.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Callers own the pool's
// lifecycle (construction and Close).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindLiveByCanonical(ctx context.Context, tenantID int64, canonical string) (*ShortLink, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM short_links WHERE tenant_id = $1 AND canonical_url = $2 AND NOT deleted`, tenantID, canonical)
	return scanOne(row)
}

func (s *PostgresStore) FindLiveByCode(ctx context.Context, tenantID int64, code string) (*ShortLink, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM short_links WHERE tenant_id = $1 AND code = $2 AND NOT deleted`, tenantID, code)
	return scanOne(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID, id int64) (*ShortLink, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM short_links WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanOne(row)
}

// InsertIfAbsent is the atomic conditional insert C4 relies on. It always
// attempts the insert first; on a unique-violation it disambiguates which
// index tripped by re-reading the row that already holds that slot.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, link *ShortLink) (errorsx.ConflictKind, *ShortLink, error) {
	metadata, err := json.Marshal(link.Metadata)
	if err != nil {
		return errorsx.Inserted, nil, errorsx.StorageConflict
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO short_links (tenant_id, code, original_url, canonical_url, creator_id, expires_at, is_active, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		link.TenantID, link.Code, link.OriginalURL, link.CanonicalURL, link.CreatorID, link.ExpiresAt, link.IsActive, metadata)

	var id int64
	if err := row.Scan(&id, &link.CreatedAt, &link.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return s.resolveConflict(ctx, link.TenantID, link.Code, link.CanonicalURL, pgErr)
		}
		return errorsx.Inserted, nil, errorsx.StorageUnavailable
	}

	link.ID = id
	return errorsx.Inserted, link, nil
}

// resolveConflict inspects the constraint name on the unique violation to
// report which index tripped, and returns the row occupying that slot.
func (s *PostgresStore) resolveConflict(ctx context.Context, tenantID int64, code, canonical string, pgErr *pgconn.PgError) (errorsx.ConflictKind, *ShortLink, error) {
	switch pgErr.ConstraintName {
	case "short_links_tenant_code_live_idx":
		existing, err := s.FindLiveByCode(ctx, tenantID, code)
		if err != nil {
			return errorsx.ConflictByCode, nil, err
		}
		return errorsx.ConflictByCode, existing, nil
	case "short_links_tenant_canonical_live_idx":
		existing, err := s.FindLiveByCanonical(ctx, tenantID, canonical)
		if err != nil {
			return errorsx.ConflictByCanonical, nil, err
		}
		return errorsx.ConflictByCanonical, existing, nil
	default:
		return errorsx.Inserted, nil, errorsx.StorageConflict
	}
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, tenantID, id int64, patch MetadataPatch) (*ShortLink, error) {
	existing, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, errorsx.NotFound
	}

	isActive := existing.IsActive
	if patch.IsActive != nil {
		isActive = *patch.IsActive
	}
	expiresAt := existing.ExpiresAt
	if patch.ExpiresAt != nil {
		expiresAt = patch.ExpiresAt
	}
	metadata := existing.Metadata
	if patch.Metadata != nil {
		metadata = patch.Metadata
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, errorsx.StorageConflict
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE short_links SET is_active = $1, expires_at = $2, metadata = $3, updated_at = now()
		WHERE tenant_id = $4 AND id = $5 AND NOT deleted
		RETURNING `+returningColumns, isActive, expiresAt, encoded, tenantID, id)
	return scanOne(row)
}

func (s *PostgresStore) SoftDelete(ctx context.Context, tenantID, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE short_links SET deleted = true, updated_at = now() WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return errorsx.StorageUnavailable
	}
	return nil
}

func (s *PostgresStore) IncrementClickCount(ctx context.Context, tenantID, id int64, n int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE short_links SET click_count = click_count + $1 WHERE tenant_id = $2 AND id = $3`, n, tenantID, id)
	if err != nil {
		return errorsx.StorageUnavailable
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID int64, page, pageSize int) ([]*ShortLink, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}
	rows, err := s.pool.Query(ctx, selectColumns+` FROM short_links WHERE tenant_id = $1 AND NOT deleted ORDER BY id DESC LIMIT $2 OFFSET $3`,
		tenantID, pageSize, page*pageSize)
	if err != nil {
		return nil, errorsx.StorageUnavailable
	}
	defer rows.Close()

	var out []*ShortLink
	for rows.Next() {
		link, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsx.StorageUnavailable
	}
	return out, nil
}

const selectColumns = `SELECT id, tenant_id, code, original_url, canonical_url, creator_id, created_at, updated_at, expires_at, is_active, click_count, deleted, metadata`
const returningColumns = `id, tenant_id, code, original_url, canonical_url, creator_id, created_at, updated_at, expires_at, is_active, click_count, deleted, metadata`

type scannable interface {
	Scan(dest ...any) error
}

func scanOne(row pgx.Row) (*ShortLink, error) {
	return scanRow(row)
}

func scanRow(row scannable) (*ShortLink, error) {
	var link ShortLink
	var metadata []byte
	err := row.Scan(&link.ID, &link.TenantID, &link.Code, &link.OriginalURL, &link.CanonicalURL, &link.CreatorID,
		&link.CreatedAt, &link.UpdatedAt, &link.ExpiresAt, &link.IsActive, &link.ClickCount, &link.Deleted, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorsx.NotFound
		}
		return nil, errorsx.StorageUnavailable
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &link.Metadata); err != nil {
			return nil, errorsx.StorageConflict
		}
	}
	return &link, nil
}
