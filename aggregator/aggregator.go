// Package aggregator is the click aggregator (C8): a durable JetStream
// consumer that folds each click event into its hourly rollup, exactly
// once per event id, without blocking on the redirect path — that
// constraint belongs to the producer (package events), not here.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/analytics"
	"github.com/shortenerhq/shortener/errorsx"
	"github.com/shortenerhq/shortener/events"
	"github.com/shortenerhq/shortener/linkstore"
)

// Tx is the subset of pgx.Tx the aggregator drives. Narrowing to this
// interface (rather than depending on pgxpool.Pool directly) lets tests
// exercise the fold/upsert logic against an in-memory fake instead of a
// live Postgres connection.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB opens transactions for the aggregator. *pgxpool.Pool satisfies this
// once wrapped by PoolDB.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// PoolDB adapts a *pgxpool.Pool to DB; pgx.Tx already satisfies the
// narrower Tx interface structurally.
type PoolDB struct {
	Pool *pgxpool.Pool
}

func (p PoolDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Config controls the consumer's durability and sketch sizing.
type Config struct {
	DurableName  string
	QueueGroup   string
	Subject      string
	AckWait      time.Duration
	MaxDeliver   int
	HeavyHitterK int
	SketchBits   int

	// IdempotencyRetention bounds how long a processed event id is kept
	// for replay-detection before prune may delete it
	// (spec §6: raw/ledger state is retained for a bounded time, not
	// forever).
	IdempotencyRetention time.Duration
	PruneInterval        time.Duration
}

// DefaultConfig matches the stream layout events.NewNATSProducer declares.
func DefaultConfig() Config {
	return Config{
		DurableName:  "click-aggregator",
		QueueGroup:   "click-aggregator",
		Subject:      "clicks.>",
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
		HeavyHitterK: 10,
		SketchBits:   analytics.DefaultSketchBits,

		IdempotencyRetention: 72 * time.Hour,
		PruneInterval:        time.Hour,
	}
}

// MetricsRecorder is the subset of observability.Metrics the aggregator
// needs, narrowed so tests can supply a fake instead of a real registry.
type MetricsRecorder interface {
	TrackAggregatorDuplicate()
}

// Aggregator subscribes to the click event stream and upserts hourly
// rollups in Postgres, acking only after the write commits (spec §4.8:
// "the consumer commits its rollup write before acknowledging the
// message, so a crash between write and ack only causes a safe replay").
type Aggregator struct {
	db      DB
	links   linkstore.Store
	js      nats.JetStreamContext
	config  Config
	logger  zerolog.Logger
	metrics MetricsRecorder

	mu     sync.Mutex
	sub    *nats.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires an aggregator over an already-connected JetStream context and
// Postgres pool. Callers own both lifecycles. metrics may be nil.
func New(db DB, links linkstore.Store, js nats.JetStreamContext, config Config, logger zerolog.Logger, metrics MetricsRecorder) *Aggregator {
	if config.DurableName == "" {
		config = DefaultConfig()
	}
	return &Aggregator{
		db:      db,
		links:   links,
		js:      js,
		config:  config,
		logger:  logger.With().Str("component", "click-aggregator").Logger(),
		metrics: metrics,
	}
}

// Start registers a durable, manually-acknowledged queue subscription and
// launches the background loop that prunes processed_event_ids once they
// age out of the idempotency window.
func (a *Aggregator) Start(ctx context.Context) error {
	sub, err := a.js.QueueSubscribe(a.config.Subject, a.config.QueueGroup, func(msg *nats.Msg) {
		a.handle(ctx, msg)
	}, nats.Durable(a.config.DurableName), nats.ManualAck(), nats.AckWait(a.config.AckWait), nats.MaxDeliver(a.config.MaxDeliver))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.sub = sub
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	a.wg.Add(1)
	go a.pruneLoop(ctx)
	return nil
}

// Stop unsubscribes, allowing in-flight messages to finish their redelivery
// window rather than forcing a drain, and stops the prune loop.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	sub := a.sub
	stopCh := a.stopCh
	a.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	a.wg.Wait()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// pruneLoop periodically deletes processed_event_ids rows older than
// config.IdempotencyRetention. Those rows exist only to detect replays of
// a delivery the JetStream consumer has already acked; once a row outlives
// MaxDeliver's redelivery window by a wide margin it can never be hit
// again, so it is safe to reclaim.
func (a *Aggregator) pruneLoop(ctx context.Context) {
	defer a.wg.Done()

	interval := a.config.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.mu.Lock()
	stopCh := a.stopCh
	a.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			if err := a.prune(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("processed_event_ids prune failed")
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// prune deletes processed_event_ids rows older than config.IdempotencyRetention.
func (a *Aggregator) prune(ctx context.Context) error {
	if a.config.IdempotencyRetention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-a.config.IdempotencyRetention)

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM processed_event_ids WHERE processed_at < $1`, cutoff)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		a.logger.Debug().Int64("rows", tag.RowsAffected()).Time("cutoff", cutoff).
			Msg("pruned processed_event_ids")
	}
	return nil
}

func (a *Aggregator) handle(ctx context.Context, msg *nats.Msg) {
	var event events.ClickEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		a.logger.Error().Err(err).Msg("click event payload malformed, dropping without redelivery")
		_ = msg.Ack()
		return
	}

	if err := a.ProcessEvent(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("event_id", event.EventID).Msg("rollup upsert failed, requesting redelivery")
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// ProcessEvent folds one click event into its hourly rollup. It is
// idempotent on event.EventID (P8): replaying the same id is a no-op once
// the first attempt has committed.
func (a *Aggregator) ProcessEvent(ctx context.Context, event events.ClickEvent) error {
	windowStart := analytics.WindowStart(event.EmittedAt)

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_event_ids (event_id, link_id, window_start)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.LinkID, windowStart)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already processed by a prior delivery of the same event id.
		if a.metrics != nil {
			a.metrics.TrackAggregatorDuplicate()
		}
		return tx.Commit(ctx)
	}

	rollup, err := a.loadForUpdate(ctx, tx, event.LinkID, windowStart)
	if err != nil {
		return err
	}
	a.fold(rollup, event)

	if err := a.upsert(ctx, tx, event.LinkID, windowStart, rollup); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if err := a.links.IncrementClickCount(ctx, event.TenantID, event.LinkID, 1); err != nil {
		a.logger.Warn().Err(err).Int64("link_id", event.LinkID).
			Msg("denormalized click counter update failed, hourly rollup already committed")
	}
	return nil
}

// foldState is the mutable accumulator built from the previously persisted
// row (if any) plus the new event, before being flattened back to columns.
type foldState struct {
	totalClicks   int64
	countries     *analytics.HeavyHitters
	referrers     *analytics.HeavyHitters
	deviceClasses map[string]int64
	sketch        *analytics.Sketch
}

func (a *Aggregator) loadForUpdate(ctx context.Context, tx Tx, linkID int64, windowStart time.Time) (*foldState, error) {
	row := tx.QueryRow(ctx, `
		SELECT total_clicks, top_countries, top_referrers, device_classes, session_sketch
		FROM hourly_rollups WHERE link_id = $1 AND window_start = $2
		FOR UPDATE`, linkID, windowStart)

	var totalClicks int64
	var topCountriesRaw, topReferrersRaw, deviceClassesRaw, sketchRaw []byte
	err := row.Scan(&totalClicks, &topCountriesRaw, &topReferrersRaw, &deviceClassesRaw, &sketchRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return &foldState{
			countries:     analytics.NewHeavyHitters(a.config.HeavyHitterK),
			referrers:     analytics.NewHeavyHitters(a.config.HeavyHitterK),
			deviceClasses: make(map[string]int64),
			sketch:        analytics.NewSketch(a.config.SketchBits),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var topCountries, topReferrers []analytics.CountedLabel
	var deviceClasses map[string]int64
	if len(topCountriesRaw) > 0 {
		if err := json.Unmarshal(topCountriesRaw, &topCountries); err != nil {
			return nil, err
		}
	}
	if len(topReferrersRaw) > 0 {
		if err := json.Unmarshal(topReferrersRaw, &topReferrers); err != nil {
			return nil, err
		}
	}
	if len(deviceClassesRaw) > 0 {
		if err := json.Unmarshal(deviceClassesRaw, &deviceClasses); err != nil {
			return nil, err
		}
	}
	if deviceClasses == nil {
		deviceClasses = make(map[string]int64)
	}

	return &foldState{
		totalClicks:   totalClicks,
		countries:     analytics.FromCounted(a.config.HeavyHitterK, topCountries),
		referrers:     analytics.FromCounted(a.config.HeavyHitterK, topReferrers),
		deviceClasses: deviceClasses,
		sketch:        analytics.SketchFromBytes(sketchRaw, a.config.SketchBits),
	}, nil
}

func (a *Aggregator) fold(s *foldState, event events.ClickEvent) {
	s.totalClicks++
	s.countries.Add(event.Country)
	s.referrers.Add(event.Referrer)
	if event.DeviceClass != "" {
		s.deviceClasses[event.DeviceClass]++
	}
	sessionKey := event.ClientIP
	if sessionKey == "" {
		sessionKey = event.EventID
	}
	s.sketch.Add(sessionKey)
}

func (a *Aggregator) upsert(ctx context.Context, tx Tx, linkID int64, windowStart time.Time, s *foldState) error {
	topCountries, err := json.Marshal(s.countries.Top())
	if err != nil {
		return err
	}
	topReferrers, err := json.Marshal(s.referrers.Top())
	if err != nil {
		return err
	}
	deviceClasses, err := json.Marshal(s.deviceClasses)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO hourly_rollups (link_id, window_start, total_clicks, unique_sessions, top_countries, top_referrers, device_classes, session_sketch, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (link_id, window_start) DO UPDATE SET
			total_clicks    = EXCLUDED.total_clicks,
			unique_sessions = EXCLUDED.unique_sessions,
			top_countries   = EXCLUDED.top_countries,
			top_referrers   = EXCLUDED.top_referrers,
			device_classes  = EXCLUDED.device_classes,
			session_sketch  = EXCLUDED.session_sketch,
			updated_at      = now()`,
		linkID, windowStart, s.totalClicks, s.sketch.Estimate(), topCountries, topReferrers, deviceClasses, s.sketch.Bytes())
	if err != nil {
		return errorsx.StorageUnavailable
	}
	return nil
}
