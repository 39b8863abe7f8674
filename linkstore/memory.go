package linkstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shortenerhq/shortener/errorsx"
)

// MemoryStore is an in-process Store used by tests and by the coordinator's
// own unit tests; it honors the same conflict-reporting contract as
// PostgresStore so callers can't tell them apart behaviorally.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	links    map[int64]*ShortLink
	byCode   map[tenantKey]int64
	byCanon  map[tenantCanonKey]int64
	failMode error // when set, every call fails with this error
}

type tenantKey struct {
	tenant int64
	code   string
}

type tenantCanonKey struct {
	tenant    int64
	canonical string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:   make(map[int64]*ShortLink),
		byCode:  make(map[tenantKey]int64),
		byCanon: make(map[tenantCanonKey]int64),
	}
}

// FailWith makes every subsequent call return err, simulating a transport
// failure for StorageUnavailable test scenarios.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMode = err
}

func clone(link *ShortLink) *ShortLink {
	c := *link
	if link.Metadata != nil {
		c.Metadata = make(map[string]any, len(link.Metadata))
		for k, v := range link.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *MemoryStore) FindLiveByCanonical(ctx context.Context, tenantID int64, canonical string) (*ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return nil, m.failMode
	}
	id, ok := m.byCanon[tenantCanonKey{tenantID, canonical}]
	if !ok {
		return nil, errorsx.NotFound
	}
	link := m.links[id]
	if link.Deleted {
		return nil, errorsx.NotFound
	}
	return clone(link), nil
}

func (m *MemoryStore) FindLiveByCode(ctx context.Context, tenantID int64, code string) (*ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return nil, m.failMode
	}
	id, ok := m.byCode[tenantKey{tenantID, code}]
	if !ok {
		return nil, errorsx.NotFound
	}
	link := m.links[id]
	if link.Deleted {
		return nil, errorsx.NotFound
	}
	return clone(link), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, tenantID, id int64) (*ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return nil, m.failMode
	}
	link, ok := m.links[id]
	if !ok || link.TenantID != tenantID {
		return nil, errorsx.NotFound
	}
	return clone(link), nil
}

func (m *MemoryStore) InsertIfAbsent(ctx context.Context, link *ShortLink) (errorsx.ConflictKind, *ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return errorsx.Inserted, nil, m.failMode
	}

	ck := tenantKey{link.TenantID, link.Code}
	if id, ok := m.byCode[ck]; ok {
		existing := m.links[id]
		if !existing.Deleted {
			return errorsx.ConflictByCode, clone(existing), nil
		}
	}
	cck := tenantCanonKey{link.TenantID, link.CanonicalURL}
	if id, ok := m.byCanon[cck]; ok {
		existing := m.links[id]
		if !existing.Deleted {
			return errorsx.ConflictByCanonical, clone(existing), nil
		}
	}

	m.nextID++
	link.ID = m.nextID
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now
	stored := clone(link)
	m.links[stored.ID] = stored
	m.byCode[ck] = stored.ID
	m.byCanon[cck] = stored.ID
	return errorsx.Inserted, clone(stored), nil
}

func (m *MemoryStore) UpdateMetadata(ctx context.Context, tenantID, id int64, patch MetadataPatch) (*ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return nil, m.failMode
	}
	link, ok := m.links[id]
	if !ok || link.TenantID != tenantID || link.Deleted {
		return nil, errorsx.NotFound
	}
	if patch.IsActive != nil {
		link.IsActive = *patch.IsActive
	}
	if patch.ExpiresAt != nil {
		link.ExpiresAt = patch.ExpiresAt
	}
	if patch.Metadata != nil {
		link.Metadata = patch.Metadata
	}
	link.UpdatedAt = time.Now()
	return clone(link), nil
}

func (m *MemoryStore) SoftDelete(ctx context.Context, tenantID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return m.failMode
	}
	link, ok := m.links[id]
	if !ok || link.TenantID != tenantID {
		return nil
	}
	link.Deleted = true
	link.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementClickCount(ctx context.Context, tenantID, id int64, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return m.failMode
	}
	link, ok := m.links[id]
	if !ok || link.TenantID != tenantID {
		return errorsx.NotFound
	}
	link.ClickCount += n
	return nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID int64, page, pageSize int) ([]*ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMode != nil {
		return nil, m.failMode
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	var all []*ShortLink
	for _, link := range m.links {
		if link.TenantID == tenantID && !link.Deleted {
			all = append(all, clone(link))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start := page * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}
