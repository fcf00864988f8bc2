package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
)

func TestHandleHealthAlwaysOK(t *testing.T) {
	s := New(":0", nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.handleHealth(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "alive", body["status"])
}

func TestHandleReadyFailsOnBadCheck(t *testing.T) {
	s := New(":0", nil, zap.NewNop())
	s.RegisterCheck(Check{Name: "redis", Func: func(ctx context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.handleReady(c))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["failed"], "redis")
}

func TestHandleReadyOKWhenAllChecksPass(t *testing.T) {
	s := New(":0", nil, zap.NewNop())
	s.RegisterCheck(Check{Name: "redis", Func: func(ctx context.Context) error { return nil }})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.handleReady(c))
	require.Equal(t, http.StatusOK, rec.Code)
}

type fakeStats struct{}

func (fakeStats) Name() string          { return "producer" }
func (fakeStats) Snapshot() interface{} { return map[string]int{"last_uid": 42} }

func TestHandleStatusAggregatesBreakersAndStats(t *testing.T) {
	reg := breaker.NewRegistry()
	reg.Register("imap", breaker.Settings{FailureThreshold: 5, RecoveryTimeout: 0, SuccessThreshold: 1})

	s := New(":0", reg, zap.NewNop())
	s.RegisterStats(fakeStats{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.handleStatus(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	breakers := body["circuit_breakers"].(map[string]interface{})
	require.Equal(t, "closed", breakers["imap"])
	stats := body["stats"].(map[string]interface{})
	require.Contains(t, stats, "producer")
}
