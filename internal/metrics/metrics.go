// Package metrics implements the counters/histograms/gauges the pipeline
// exposes, grounded on infodancer-pop3d/internal/metrics/prometheus.go's
// collector-struct-plus-MustRegister shape: a typed struct of
// prometheus.Collector fields built once in NewCollector and incremented
// through named methods, served over /metrics via promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric the pipeline emits.
type Collector struct {
	emailsProducedTotal        prometheus.Counter
	emailsProcessedTotal       prometheus.Counter
	emailsFailedTotal          prometheus.Counter
	dlqMessagesTotal           prometheus.Counter
	backoffRetriesTotal        prometheus.Counter
	idempotencyDuplicatesTotal prometheus.Counter
	orphansClaimedTotal        prometheus.Counter
	imapPollsTotal             prometheus.Counter

	processingLatencySeconds prometheus.Histogram
	imapPollDurationSeconds  prometheus.Histogram

	streamDepth   prometheus.Gauge
	dlqDepth      prometheus.Gauge
	uptimeSeconds prometheus.Gauge
	activeWorkers prometheus.Gauge

	circuitBreakerState *prometheus.GaugeVec

	startedAt time.Time
}

// NewCollector builds and registers every metric against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		emailsProducedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_produced_total",
			Help: "Records appended to the primary log by the producer.",
		}),
		emailsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_processed_total",
			Help: "Records acked successfully by the worker.",
		}),
		emailsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_failed_total",
			Help: "Handler failures, counted before retry accounting.",
		}),
		dlqMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Records routed to the dead-letter log.",
		}),
		backoffRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoff_retries_total",
			Help: "Backoff delays consumed before a retry.",
		}),
		idempotencyDuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idempotency_duplicates_total",
			Help: "Entries skipped as duplicates by the idempotency filter.",
		}),
		orphansClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orphans_claimed_total",
			Help: "Pending entries reclaimed by the orphan sweep.",
		}),
		imapPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imap_polls_total",
			Help: "IMAP poll cycles attempted by the producer.",
		}),
		processingLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "processing_latency_seconds",
			Help:    "Per-record wall-clock time spent in the processor.",
			Buckets: prometheus.DefBuckets,
		}),
		imapPollDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imap_poll_duration_seconds",
			Help:    "Wall-clock time spent per IMAP poll cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		streamDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_depth",
			Help: "Approximate length of the primary log stream.",
		}),
		dlqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlq_depth",
			Help: "Approximate length of the dead-letter stream.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_seconds",
			Help: "Monotonic process uptime.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of registered worker instances.",
		}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "0=Closed, 1=Open, 2=HalfOpen, labeled by dependency name.",
		}, []string{"dependency"}),
		startedAt: time.Now(),
	}

	reg.MustRegister(
		c.emailsProducedTotal,
		c.emailsProcessedTotal,
		c.emailsFailedTotal,
		c.dlqMessagesTotal,
		c.backoffRetriesTotal,
		c.idempotencyDuplicatesTotal,
		c.orphansClaimedTotal,
		c.imapPollsTotal,
		c.processingLatencySeconds,
		c.imapPollDurationSeconds,
		c.streamDepth,
		c.dlqDepth,
		c.uptimeSeconds,
		c.activeWorkers,
		c.circuitBreakerState,
	)

	return c
}

func (c *Collector) EmailProduced()        { c.emailsProducedTotal.Inc() }
func (c *Collector) EmailProcessed()       { c.emailsProcessedTotal.Inc() }
func (c *Collector) EmailFailed()          { c.emailsFailedTotal.Inc() }
func (c *Collector) DLQMessage()           { c.dlqMessagesTotal.Inc() }
func (c *Collector) BackoffRetry()         { c.backoffRetriesTotal.Inc() }
func (c *Collector) IdempotencyDuplicate() { c.idempotencyDuplicatesTotal.Inc() }
func (c *Collector) OrphanClaimed()        { c.orphansClaimedTotal.Inc() }
func (c *Collector) IMAPPoll()             { c.imapPollsTotal.Inc() }

func (c *Collector) ObserveProcessingLatency(d time.Duration) {
	c.processingLatencySeconds.Observe(d.Seconds())
}

func (c *Collector) ObserveIMAPPollDuration(d time.Duration) {
	c.imapPollDurationSeconds.Observe(d.Seconds())
}

func (c *Collector) SetStreamDepth(n int64)  { c.streamDepth.Set(float64(n)) }
func (c *Collector) SetDLQDepth(n int64)     { c.dlqDepth.Set(float64(n)) }
func (c *Collector) SetActiveWorkers(n int)  { c.activeWorkers.Set(float64(n)) }

func (c *Collector) SetCircuitBreakerState(dependency string, value float64) {
	c.circuitBreakerState.WithLabelValues(dependency).Set(value)
}

// RefreshUptime updates the uptime gauge; called by the background
// depth poller alongside stream/DLQ depth.
func (c *Collector) RefreshUptime() {
	c.uptimeSeconds.Set(time.Since(c.startedAt).Seconds())
}
