package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB is an in-memory stand-in for Postgres, just faithful enough to
// exercise the aggregator's idempotency-check-then-upsert transaction
// shape without a live database connection.
type fakeDB struct {
	mu        sync.Mutex
	processed map[string]bool
	rollups   map[rollupKey]rollupRow
}

type rollupKey struct {
	linkID      int64
	windowStart time.Time
}

type rollupRow struct {
	totalClicks   int64
	topCountries  []byte
	topReferrers  []byte
	deviceClasses []byte
	sketch        []byte
}

func newFakeDB() *fakeDB {
	return &fakeDB{processed: make(map[string]bool), rollups: make(map[rollupKey]rollupRow)}
}

func (d *fakeDB) Begin(ctx context.Context) (Tx, error) {
	return &fakeTx{db: d, stagedProcessed: make(map[string]bool), stagedRollups: make(map[rollupKey]rollupRow)}, nil
}

// fakeTx stages writes and only applies them to the shared fakeDB on
// Commit, mirroring transaction isolation closely enough for sequential
// tests.
type fakeTx struct {
	db *fakeDB

	stagedProcessed map[string]bool
	stagedRollups   map[rollupKey]rollupRow
	committed       bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO processed_event_ids"):
		eventID := args[0].(string)
		t.db.mu.Lock()
		exists := t.db.processed[eventID]
		t.db.mu.Unlock()
		if exists {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		t.stagedProcessed[eventID] = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.Contains(sql, "INSERT INTO hourly_rollups"):
		key := rollupKey{linkID: args[0].(int64), windowStart: args[1].(time.Time)}
		row := rollupRow{
			totalClicks:   args[2].(int64),
			topCountries:  args[4].([]byte),
			topReferrers:  args[5].([]byte),
			deviceClasses: args[6].([]byte),
			sketch:        args[7].([]byte),
		}
		t.stagedRollups[key] = row
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	default:
		return pgconn.CommandTag{}, fmt.Errorf("fakeTx: unrecognized statement: %s", sql)
	}
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if !strings.Contains(sql, "FROM hourly_rollups") {
		return fakeRow{err: fmt.Errorf("fakeTx: unrecognized query: %s", sql)}
	}
	key := rollupKey{linkID: args[0].(int64), windowStart: args[1].(time.Time)}

	t.db.mu.Lock()
	row, ok := t.db.rollups[key]
	t.db.mu.Unlock()
	if staged, ok2 := t.stagedRollups[key]; ok2 {
		row, ok = staged, true
	}
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{row: row}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.committed {
		return nil
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for id := range t.stagedProcessed {
		t.db.processed[id] = true
	}
	for key, row := range t.stagedRollups {
		t.db.rollups[key] = row
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	return nil
}

type fakeRow struct {
	row rollupRow
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.row.totalClicks
	*dest[1].(*[]byte) = r.row.topCountries
	*dest[2].(*[]byte) = r.row.topReferrers
	*dest[3].(*[]byte) = r.row.deviceClasses
	*dest[4].(*[]byte) = r.row.sketch
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
