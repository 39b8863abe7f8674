package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/shortenerhq/shortener/errorsx"
)

// Config controls partitioning, buffering, and retry behavior — the
// event_batch_size / event_flush_interval / partition_count surface from
// spec §6, adapted to a per-event publish rather than a batch flush.
type Config struct {
	PartitionCount int
	BufferSize     int
	RetryConfig    errorsx.RetryConfig
	DLQSubjectBase string
	PublishTimeout time.Duration
}

// DefaultConfig matches the gateway pipeline's own buffering defaults,
// scaled down for a per-event (not batched) publish path.
func DefaultConfig() Config {
	return Config{
		PartitionCount: 8,
		BufferSize:     10000,
		RetryConfig:    errorsx.DefaultRetryConfig(),
		DLQSubjectBase: "clicks.dlq",
		PublishTimeout: 2 * time.Second,
	}
}

// MetricsRecorder is the subset of observability.Metrics the producer
// needs, narrowed so tests can supply a fake instead of a real registry.
type MetricsRecorder interface {
	TrackClickEventDropped()
}

// NATSProducer publishes click events to "clicks.<partition>" subjects,
// partitioned by link id so a partition's events stay locally ordered.
// Publish itself never blocks: it is a bounded channel send with a
// default-drop branch, exactly the shape the gateway used for
// Pipeline.TrackRequest.
type NATSProducer struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	config  Config
	logger  zerolog.Logger
	metrics MetricsRecorder

	channels []chan ClickEvent
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	published int64
	dropped   int64
	dlq       int64
}

// StreamName is the JetStream stream every partition subject belongs to,
// giving the transport durable at-least-once delivery with consumer-side
// committed offsets (spec §6 event transport contract).
const StreamName = "CLICKS"

// NewNATSProducer wraps an already-connected NATS client, ensuring the
// CLICKS stream exists. Callers own the connection's lifecycle. metrics
// may be nil, in which case dropped events are only logged.
func NewNATSProducer(conn *nats.Conn, config Config, logger zerolog.Logger, metrics MetricsRecorder) (*NATSProducer, error) {
	if config.PartitionCount <= 0 {
		config.PartitionCount = 1
	}

	var js nats.JetStreamContext
	if conn != nil {
		var err error
		js, err = conn.JetStream()
		if err != nil {
			return nil, err
		}
		// AddStream is idempotent in intent: if the stream already exists
		// (created by another producer instance, or by the aggregator),
		// the call fails harmlessly and publishing proceeds regardless.
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"clicks.>"},
		}); err != nil {
			logger.Debug().Err(err).Msg("jetstream stream declaration did not change the stream")
		}
	}

	p := &NATSProducer{
		conn:    conn,
		js:      js,
		config:  config,
		logger:  logger.With().Str("component", "click-event-producer").Logger(),
		metrics: metrics,
	}
	p.channels = make([]chan ClickEvent, config.PartitionCount)
	for i := range p.channels {
		p.channels[i] = make(chan ClickEvent, config.BufferSize)
	}
	return p, nil
}

// Start launches one worker per partition.
func (p *NATSProducer) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := range p.channels {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Close stops all workers, draining in-flight events, and returns.
func (p *NATSProducer) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *NATSProducer) partitionFor(linkID int64) int {
	n := int64(len(p.channels))
	part := linkID % n
	if part < 0 {
		part += n
	}
	return int(part)
}

// Publish enqueues event for its partition's worker. Non-blocking: if the
// partition's buffer is full, the event is dropped and the loss counter
// increments — it is never surfaced as an error to the redirect path.
func (p *NATSProducer) Publish(event ClickEvent) {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}
	ch := p.channels[p.partitionFor(event.LinkID)]
	select {
	case ch <- event:
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.TrackClickEventDropped()
		}
		p.logger.Warn().Str("event_id", event.EventID).Int64("link_id", event.LinkID).
			Msg("click event dropped: partition buffer full")
	}
}

func (p *NATSProducer) worker(ctx context.Context, partition int) {
	defer p.wg.Done()
	ch := p.channels[partition]
	subject := fmt.Sprintf("clicks.%d", partition)

	for {
		select {
		case <-ctx.Done():
			p.drain(ch, subject)
			return
		case event := <-ch:
			p.publishOne(ctx, subject, event)
		}
	}
}

// drain flushes whatever is still buffered after cancellation, best-effort.
func (p *NATSProducer) drain(ch chan ClickEvent, subject string) {
	for {
		select {
		case event := <-ch:
			p.publishOne(context.Background(), subject, event)
		default:
			return
		}
	}
}

func (p *NATSProducer) publishOne(ctx context.Context, subject string, event ClickEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.deadLetter(event, err)
		return
	}

	err = errorsx.Retry(ctx, p.config.RetryConfig, func(attempt int) error {
		_, err := p.js.Publish(subject, payload)
		return err
	})
	if err != nil {
		p.deadLetter(event, err)
		return
	}
	atomic.AddInt64(&p.published, 1)
}

func (p *NATSProducer) deadLetter(event ClickEvent, cause error) {
	atomic.AddInt64(&p.dlq, 1)
	p.logger.Error().Err(cause).Str("event_id", event.EventID).Int64("link_id", event.LinkID).
		Msg("click event publish failed after retries, routed to dead letter")

	payload, err := json.Marshal(struct {
		Event ClickEvent `json:"event"`
		Cause string     `json:"cause"`
	}{Event: event, Cause: cause.Error()})
	if err != nil {
		return
	}
	_ = p.conn.Publish(p.config.DLQSubjectBase, payload)
}

func (p *NATSProducer) Stats() Stats {
	return Stats{
		Published: atomic.LoadInt64(&p.published),
		Dropped:   atomic.LoadInt64(&p.dropped),
		DLQ:       atomic.LoadInt64(&p.dlq),
	}
}
