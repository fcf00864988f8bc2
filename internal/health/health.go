// Package health serves the liveness/readiness/status HTTP surface on a
// dedicated *http.Server per role, using github.com/labstack/echo/v4 —
// the dominant HTTP framework across the source monorepo (iam-service,
// discovery-service, and siblings all build their router with
// echo.New()/e.GET(...)/e.Start(addr)).
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
)

// Check is a named dependency readiness probe; it returns nil when the
// dependency is healthy.
type Check struct {
	Name string
	Func func(ctx context.Context) error
}

// StatsProvider supplies an opaque JSON-able snapshot for /status, e.g.
// the producer cursor or the worker's dispatch counters.
type StatsProvider interface {
	Name() string
	Snapshot() interface{}
}

// Server is the health/ready/status HTTP surface for one process.
type Server struct {
	echo      *echo.Echo
	addr      string
	startedAt time.Time
	breakers  *breaker.Registry
	log       *zap.Logger

	mu     sync.Mutex
	checks []Check
	stats  []StatsProvider
}

// New builds a health server bound to addr (e.g. ":8080"), aggregating
// breakers' states into /status.
func New(addr string, breakers *breaker.Registry, log *zap.Logger) *Server {
	s := &Server{
		echo:      echo.New(),
		addr:      addr,
		startedAt: time.Now(),
		breakers:  breakers,
		log:       log,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/status", s.handleStatus)
	return s
}

// RegisterCheck adds a readiness dependency check.
func (s *Server) RegisterCheck(c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, c)
}

// RegisterStats adds a stats provider whose snapshot appears in /status.
func (s *Server) RegisterStats(p StatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, p)
}

// Start runs the server on a background goroutine (the "daemon task" the
// contract requires — it never blocks shutdown). Call Shutdown to stop it.
func (s *Server) Start() {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("health server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleReady(c echo.Context) error {
	s.mu.Lock()
	checks := append([]Check(nil), s.checks...)
	s.mu.Unlock()

	var failing []string
	for _, chk := range checks {
		if err := chk.Func(c.Request().Context()); err != nil {
			failing = append(failing, chk.Name)
		}
	}

	if len(failing) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"failed": failing,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "ready"})
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.Lock()
	stats := append([]StatsProvider(nil), s.stats...)
	s.mu.Unlock()

	breakerStates := map[string]string{}
	if s.breakers != nil {
		for name, state := range s.breakers.Snapshot() {
			breakerStates[name] = state.String()
		}
	}

	statsOut := map[string]interface{}{}
	for _, p := range stats {
		statsOut[p.Name()] = p.Snapshot()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"uptime_seconds":              time.Since(s.startedAt).Seconds(),
		"circuit_breakers":            breakerStates,
		"stats":                       statsOut,
		"correlation_context_version": 1,
	})
}
