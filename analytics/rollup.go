// Package analytics holds the derived, time-bucketed click analytics
// (HourlyRollup), its Postgres schema, and the forecasting/anomaly
// helpers used to surface traffic trends to dashboards.
package analytics

import "time"

// Schema is the DDL for the aggregator's rollup table plus the
// idempotency ledger it upserts against (spec §4.8, §6 persisted-state
// layout: one unique index on HourlyRollup (link_id, window_start)).
const Schema = `
CREATE TABLE IF NOT EXISTS hourly_rollups (
	link_id         BIGINT NOT NULL,
	window_start    TIMESTAMPTZ NOT NULL,
	total_clicks    BIGINT NOT NULL DEFAULT 0,
	unique_sessions BIGINT NOT NULL DEFAULT 0,
	top_countries   JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_referrers   JSONB NOT NULL DEFAULT '[]'::jsonb,
	device_classes  JSONB NOT NULL DEFAULT '{}'::jsonb,
	session_sketch  BYTEA NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (link_id, window_start)
);

CREATE TABLE IF NOT EXISTS processed_event_ids (
	event_id     UUID PRIMARY KEY,
	link_id      BIGINT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// CountedLabel is a heavy-hitter entry: a label (country or referrer) and
// its bounded-K observation count.
type CountedLabel struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// HourlyRollup is the read model dashboards query; one row per (link,
// window-start hour).
type HourlyRollup struct {
	LinkID         int64                  `json:"link_id"`
	WindowStart    time.Time              `json:"window_start"`
	TotalClicks    int64                  `json:"total_clicks"`
	UniqueSessions int64                  `json:"unique_sessions"`
	TopCountries   []CountedLabel         `json:"top_countries"`
	TopReferrers   []CountedLabel         `json:"top_referrers"`
	DeviceClasses  map[string]int64       `json:"device_classes"`
}

// WindowStart truncates t to the UTC hour it falls in.
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
