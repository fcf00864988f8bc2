package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
)

func newTestCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestCountersIncrement(t *testing.T) {
	c, _ := newTestCollector()

	c.EmailProduced()
	c.EmailProcessed()
	c.EmailFailed()
	c.DLQMessage()
	c.BackoffRetry()
	c.IdempotencyDuplicate()
	c.OrphanClaimed()
	c.IMAPPoll()

	require.Equal(t, float64(1), testutil.ToFloat64(c.emailsProducedTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.emailsProcessedTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.emailsFailedTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.dlqMessagesTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.backoffRetriesTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.idempotencyDuplicatesTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.orphansClaimedTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(c.imapPollsTotal))
}

func TestGaugesSet(t *testing.T) {
	c, _ := newTestCollector()

	c.SetStreamDepth(42)
	c.SetDLQDepth(3)
	c.SetActiveWorkers(2)

	require.Equal(t, float64(42), testutil.ToFloat64(c.streamDepth))
	require.Equal(t, float64(3), testutil.ToFloat64(c.dlqDepth))
	require.Equal(t, float64(2), testutil.ToFloat64(c.activeWorkers))
}

func TestCircuitBreakerStateGaugeUsesSpecEncoding(t *testing.T) {
	c, _ := newTestCollector()

	c.SetCircuitBreakerState("imap", breaker.Open.GaugeValue())
	require.Equal(t, float64(1), testutil.ToFloat64(c.circuitBreakerState.WithLabelValues("imap")))

	c.SetCircuitBreakerState("imap", breaker.HalfOpen.GaugeValue())
	require.Equal(t, float64(2), testutil.ToFloat64(c.circuitBreakerState.WithLabelValues("imap")))

	c.SetCircuitBreakerState("imap", breaker.Closed.GaugeValue())
	require.Equal(t, float64(0), testutil.ToFloat64(c.circuitBreakerState.WithLabelValues("imap")))
}

func TestHistogramsObserve(t *testing.T) {
	c, _ := newTestCollector()

	c.ObserveProcessingLatency(250 * time.Millisecond)
	c.ObserveIMAPPollDuration(2 * time.Second)

	require.Equal(t, uint64(1), testutil.CollectAndCount(c.processingLatencySeconds))
	require.Equal(t, uint64(1), testutil.CollectAndCount(c.imapPollDurationSeconds))
}

func TestRefreshUptimeAdvancesWithTime(t *testing.T) {
	c, _ := newTestCollector()
	c.startedAt = time.Now().Add(-5 * time.Second)

	c.RefreshUptime()
	require.GreaterOrEqual(t, testutil.ToFloat64(c.uptimeSeconds), float64(5))
}

type fakeDepthSource struct {
	depths map[string]int64
}

func (f fakeDepthSource) Len(stream string) (int64, error) {
	return f.depths[stream], nil
}

func TestDepthPollerUpdatesGauges(t *testing.T) {
	c, _ := newTestCollector()
	src := fakeDepthSource{depths: map[string]int64{
		"emailflow:inbound": 7,
		"emailflow:dlq":     1,
	}}

	poller := NewDepthPoller(c, src, "emailflow:inbound", "emailflow:dlq", nil, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	require.Equal(t, float64(7), testutil.ToFloat64(c.streamDepth))
	require.Equal(t, float64(1), testutil.ToFloat64(c.dlqDepth))
}

func TestDepthPollerRefreshesCircuitBreakerState(t *testing.T) {
	c, _ := newTestCollector()
	src := fakeDepthSource{depths: map[string]int64{}}
	breakers := breaker.NewRegistry()
	breakers.Register("imap", breaker.Settings{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1})

	poller := NewDepthPoller(c, src, "emailflow:inbound", "emailflow:dlq", breakers, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	require.Equal(t, float64(0), testutil.ToFloat64(c.circuitBreakerState.WithLabelValues("imap")))
}
