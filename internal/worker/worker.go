// Package worker implements the per-consumer dispatch loop: read a batch
// from the consumer group, dedup, process, and either ack, leave pending
// for redelivery, or route to the dead-letter stream — adapted from
// apps/notification-service/internal/consumer/event_consumer.go's
// Start(ctx)/fetch-batch/processMessage shape, generalized from a NATS
// JetStream pull subscription to a Redis Streams consumer group.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/backoff"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/corrid"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/dlq"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/idempotency"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/processor"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// MetricsSink is the subset of the metrics collector the worker uses.
type MetricsSink interface {
	EmailProcessed()
	EmailFailed()
	BackoffRetry()
	ObserveProcessingLatency(d time.Duration)
}

// Settings configures one consumer's dispatch loop.
type Settings struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int64
	BlockTimeout time.Duration
}

// Worker drains one consumer's share of a group, processing each entry to
// completion before it either acks, leaves the entry pending for
// redelivery, or routes it to the dead-letter stream.
type Worker struct {
	settings    Settings
	store       store.LogStore
	idempotency *idempotency.Filter
	backoff     *backoff.Controller
	dlq         *dlq.Router
	processor   *processor.Processor
	metrics     MetricsSink
	log         *zap.Logger
}

// New builds a Worker and ensures its consumer group exists.
func New(
	settings Settings,
	s store.LogStore,
	idem *idempotency.Filter,
	bo *backoff.Controller,
	d *dlq.Router,
	p *processor.Processor,
	metrics MetricsSink,
	log *zap.Logger,
) (*Worker, error) {
	if err := s.EnsureGroup(settings.Stream, settings.Group, "0"); err != nil {
		return nil, err
	}
	return &Worker{
		settings:    settings,
		store:       s,
		idempotency: idem,
		backoff:     bo,
		dlq:         d,
		processor:   p,
		metrics:     metrics,
		log:         log,
	}, nil
}

// Run blocks, fetching and dispatching batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started",
		zap.String("stream", w.settings.Stream),
		zap.String("group", w.settings.Group),
		zap.String("consumer", w.settings.Consumer),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return
		default:
		}

		entries, err := w.store.ReadGroup(w.settings.Stream, w.settings.Group, w.settings.Consumer, w.settings.BatchSize, w.settings.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("read_group failed", zap.Error(err))
			continue
		}

		for _, entry := range entries {
			w.dispatch(ctx, entry)
		}
	}
}

// dispatch runs one entry through dedup, processing, and the
// ack/retry/DLQ decision.
func (w *Worker) dispatch(ctx context.Context, entry store.LogEntry) {
	_, corr := corrid.WithNew(ctx)
	log := w.log.With(zap.String("correlation_id", corr), zap.String("entry_id", entry.ID))

	var record model.MailRecord
	if err := json.Unmarshal([]byte(entry.Fields["payload"]), &record); err != nil {
		log.Warn("malformed payload, routing to dlq without retry", zap.Error(err))
		w.deadLetter(entry, ingesterr.InvariantViolation, err.Error(), 0)
		return
	}

	dup, err := w.idempotency.IsDuplicate(record.Account, record.Mailbox, record.UIDValidity, record.UID)
	if err != nil {
		log.Warn("idempotency check failed, leaving unacked for redelivery", zap.Error(err))
		return
	}
	if dup {
		// internal/idempotency.Filter already incremented the duplicate
		// counter on its own Collector; nothing further to record here.
		w.ack(entry, log)
		return
	}

	start := time.Now()
	_, procErr := w.processor.Process(record)
	if w.metrics != nil {
		w.metrics.ObserveProcessingLatency(time.Since(start))
	}

	if procErr == nil {
		if err := w.idempotency.MarkProcessed(record.Account, record.Mailbox, record.UIDValidity, record.UID); err != nil {
			log.Warn("failed to mark processed", zap.Error(err))
		}
		w.backoff.RecordSuccess(entry.ID)
		if w.metrics != nil {
			w.metrics.EmailProcessed()
		}
		w.ack(entry, log)
		return
	}

	if w.metrics != nil {
		w.metrics.EmailFailed()
	}

	if ingesterr.Is(procErr, ingesterr.InvariantViolation) {
		log.Warn("invariant violation, routing to dlq without retry", zap.Error(procErr))
		w.deadLetter(entry, ingesterr.InvariantViolation, procErr.Error(), w.backoff.RetryCount(entry.ID))
		return
	}

	w.backoff.RecordFailure(entry.ID)
	if w.backoff.ShouldRetry(entry.ID) {
		if w.metrics != nil {
			w.metrics.BackoffRetry()
		}
		log.Info("processing failed, leaving pending for redelivery",
			zap.Error(procErr), zap.Int("retry_count", w.backoff.RetryCount(entry.ID)))
		return
	}

	log.Warn("retries exhausted, routing to dlq", zap.Error(procErr))
	w.deadLetter(entry, ingesterr.KindOf(procErr), procErr.Error(), w.backoff.RetryCount(entry.ID))
}

// RunGC periodically reclaims backoff state for entries that have gone
// idle (acked or DLQ'd elsewhere without passing back through this
// worker's own RecordSuccess), bounding the controller's in-memory map.
// Ticker shape mirrors internal/metrics.DepthPoller.Run.
func (w *Worker) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := w.backoff.GC(now); removed > 0 {
				w.log.Debug("backoff gc reclaimed idle entries", zap.Int("removed", removed))
			}
		}
	}
}

func (w *Worker) ack(entry store.LogEntry, log *zap.Logger) {
	if err := w.store.Ack(w.settings.Stream, w.settings.Group, entry.ID); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func (w *Worker) deadLetter(entry store.LogEntry, kind ingesterr.Kind, message string, retryCount int) {
	if _, err := w.dlq.SendToDLQ(entry.ID, []byte(entry.Fields["payload"]), string(kind), message, retryCount); err != nil {
		w.log.Warn("routing to dlq failed, entry remains pending", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	w.backoff.RecordSuccess(entry.ID)
	if err := w.store.Ack(w.settings.Stream, w.settings.Group, entry.ID); err != nil {
		w.log.Warn("ack after dlq failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}
