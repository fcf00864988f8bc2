package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry()
	b := r.Register("imap", Settings{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond, SuccessThreshold: 1})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	require.Equal(t, Open, b.State())

	err := b.Execute(func() error { return nil })
	require.True(t, ingesterr.Is(err, ingesterr.CircuitOpen))
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	r := NewRegistry()
	b := r.Register("imap", Settings{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, SuccessThreshold: 1})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, Closed, b.State())
}

func TestRegistrySnapshotAndIdempotentRegister(t *testing.T) {
	r := NewRegistry()
	first := r.Register("redis", Settings{FailureThreshold: 5, RecoveryTimeout: time.Second, SuccessThreshold: 2})
	second := r.Register("redis", Settings{FailureThreshold: 1, RecoveryTimeout: time.Second, SuccessThreshold: 1})
	require.Same(t, first, second)

	snap := r.Snapshot()
	require.Equal(t, Closed, snap["redis"])
}
