package verification

import (
	"context"
	"log/slog"

	"certifychain/internal/domain"
	"certifychain/internal/platform/metrics"
	"certifychain/internal/store"
)

// Sink receives each persisted event, e.g. a Kafka publisher. Sink failures
// only log; the store append is the durable record.
type Sink interface {
	Publish(ctx context.Context, event domain.VerificationEvent) error
}

// Recorder consumes verification events from a bounded channel and persists
// them. Enqueue never blocks: when the channel is full the event is dropped
// and counted, because audit writes must not slow resolution down.
type Recorder struct {
	inbox   chan domain.VerificationEvent
	events  store.VerificationStore
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type RecorderOption func(r *Recorder)

func RecorderWithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

func RecorderWithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

func RecorderWithSink(sink Sink) RecorderOption {
	return func(r *Recorder) { r.sinks = append(r.sinks, sink) }
}

func NewRecorder(events store.VerificationStore, queueSize int, opts ...RecorderOption) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		inbox:  make(chan domain.VerificationEvent, queueSize),
		events: events,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue hands an event to the worker without blocking.
func (r *Recorder) Enqueue(event domain.VerificationEvent) {
	select {
	case r.inbox <- event:
	default:
		r.metrics.IncrementAuditDropped()
		r.logger.Warn("verification event dropped, queue full",
			"certificate_id", event.CertificateID,
		)
	}
}

// Run consumes events until ctx is cancelled. Store failures log and drop the
// single event rather than stopping the worker.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case event := <-r.inbox:
			r.handle(ctx, event)
		}
	}
}

// drain flushes whatever is buffered at shutdown with a detached context.
func (r *Recorder) drain() {
	for {
		select {
		case event := <-r.inbox:
			r.handle(context.Background(), event)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, event domain.VerificationEvent) {
	if err := r.events.Append(ctx, event); err != nil {
		r.logger.Error("failed to persist verification event",
			"certificate_id", event.CertificateID,
			"error", err,
		)
		return
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			r.logger.Warn("verification event sink failed",
				"certificate_id", event.CertificateID,
				"error", err,
			)
		}
	}
}
