package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

func newTestStore(t *testing.T) store.StateStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := store.NewRedisClient(context.Background(), mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

type countingCollector struct{ n int }

func (c *countingCollector) IdempotencyDuplicate() { c.n++ }

func TestFreshRecordIsNotDuplicate(t *testing.T) {
	f := New(newTestStore(t), 0, nil)

	dup, err := f.IsDuplicate("acct", "INBOX", 700, 10)
	require.NoError(t, err)
	require.False(t, dup)
}

func TestMarkProcessedThenDuplicateDetected(t *testing.T) {
	counter := &countingCollector{}
	f := New(newTestStore(t), 0, counter)

	require.NoError(t, f.MarkProcessed("acct", "INBOX", 700, 10))

	dup, err := f.IsDuplicate("acct", "INBOX", 700, 10)
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, 1, counter.n)
}

func TestDifferentUIDValidityPartitionsIndependently(t *testing.T) {
	f := New(newTestStore(t), 0, nil)

	require.NoError(t, f.MarkProcessed("acct", "INBOX", 700, 10))

	dup, err := f.IsDuplicate("acct", "INBOX", 701, 10)
	require.NoError(t, err)
	require.False(t, dup)
}

func TestClearEpochRemovesMembership(t *testing.T) {
	f := New(newTestStore(t), 0, nil)

	require.NoError(t, f.MarkProcessed("acct", "INBOX", 700, 10))
	require.NoError(t, f.ClearEpoch("acct", "INBOX", 700))

	dup, err := f.IsDuplicate("acct", "INBOX", 700, 10)
	require.NoError(t, err)
	require.False(t, dup)
}

func TestTTLAppliedToPartition(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc, err := store.NewRedisClient(context.Background(), mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	f := New(rc, time.Hour, nil)
	require.NoError(t, f.MarkProcessed("acct", "INBOX", 700, 10))
	require.Equal(t, time.Hour, mr.TTL(setName("acct", "INBOX", 700)))
}
