package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reader answers the dashboard-facing query: every hourly rollup for a
// link within a time range, ordered oldest first.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader builds a Reader over the shared connection pool.
func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// Range returns the hourly rollups for linkID whose window_start falls in
// [from, to).
func (r *Reader) Range(ctx context.Context, linkID int64, from, to time.Time) ([]HourlyRollup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT window_start, total_clicks, unique_sessions, top_countries, top_referrers, device_classes
		FROM hourly_rollups
		WHERE link_id = $1 AND window_start >= $2 AND window_start < $3
		ORDER BY window_start ASC`, linkID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourlyRollup
	for rows.Next() {
		var (
			rollup            HourlyRollup
			countriesRaw      []byte
			referrersRaw      []byte
			deviceClassesRaw  []byte
		)
		rollup.LinkID = linkID
		if err := rows.Scan(&rollup.WindowStart, &rollup.TotalClicks, &rollup.UniqueSessions, &countriesRaw, &referrersRaw, &deviceClassesRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(countriesRaw, &rollup.TopCountries); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(referrersRaw, &rollup.TopReferrers); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(deviceClassesRaw, &rollup.DeviceClasses); err != nil {
			return nil, err
		}
		out = append(out, rollup)
	}
	return out, rows.Err()
}
