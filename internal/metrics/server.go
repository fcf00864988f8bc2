package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
)

// Server exposes the collector's registry at /metrics on a dedicated
// *http.Server, mirroring the health package's one-server-per-role shape.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds a metrics server bound to addr (e.g. ":9090").
func NewServer(addr string, reg *prometheus.Registry, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		log:        log,
	}
}

// Start runs the server on a background goroutine. Call Shutdown to stop it.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// DepthSource is the minimal dependency the poller needs to read log
// lengths; internal/store.LogStore satisfies it.
type DepthSource interface {
	Len(stream string) (int64, error)
}

// DepthPoller periodically refreshes stream_depth, dlq_depth,
// circuit_breaker_state, and uptime_seconds. Grounded on scan_poller.go's
// ticker-driven Run(ctx) loop.
type DepthPoller struct {
	collector     *Collector
	store         DepthSource
	primaryStream string
	dlqStream     string
	breakers      *breaker.Registry
	interval      time.Duration
	log           *zap.Logger
}

// NewDepthPoller builds a DepthPoller; interval defaults to 15s if zero.
// breakers may be nil, in which case circuit_breaker_state is never
// refreshed by this poller.
func NewDepthPoller(collector *Collector, store DepthSource, primaryStream, dlqStream string, breakers *breaker.Registry, interval time.Duration, log *zap.Logger) *DepthPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DepthPoller{
		collector:     collector,
		store:         store,
		primaryStream: primaryStream,
		dlqStream:     dlqStream,
		breakers:      breakers,
		interval:      interval,
		log:           log,
	}
}

// Run blocks polling depths until ctx is cancelled.
func (p *DepthPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("depth poller started", zap.Duration("interval", p.interval))
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("depth poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *DepthPoller) tick(ctx context.Context) {
	p.collector.RefreshUptime()

	if n, err := p.store.Len(p.primaryStream); err != nil {
		p.log.Warn("failed to read primary stream depth", zap.Error(err))
	} else {
		p.collector.SetStreamDepth(n)
	}

	if n, err := p.store.Len(p.dlqStream); err != nil {
		p.log.Warn("failed to read dlq stream depth", zap.Error(err))
	} else {
		p.collector.SetDLQDepth(n)
	}

	if p.breakers != nil {
		for name, state := range p.breakers.Snapshot() {
			p.collector.SetCircuitBreakerState(name, state.GaugeValue())
		}
	}
}
