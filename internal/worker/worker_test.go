package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/backoff"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/dlq"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/idempotency"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/processor"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

func newTestStores(t *testing.T) store.LogStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := store.NewRedisClient(context.Background(), mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

func appendRecord(t *testing.T, s store.LogStore, stream string, rec model.MailRecord) string {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	id, err := s.Append(stream, map[string]string{"payload": string(payload)}, 0)
	require.NoError(t, err)
	return id
}

func newWorker(t *testing.T, s store.LogStore, handler processor.Handler) *Worker {
	t.Helper()
	idem := idempotency.New(s.(store.StateStore), 0, nil)
	bo := backoff.New(backoff.Settings{MaxRetries: 2})
	router := dlq.New(s, "dlq_stream", nil)
	proc := processor.New(handler)

	w, err := New(Settings{Stream: "stream1", Group: "group1", Consumer: "c1", BatchSize: 10, BlockTimeout: 0}, s, idem, bo, router, proc, nil, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestDispatchAcksOnSuccessAndMarksProcessed(t *testing.T) {
	s := newTestStores(t)
	rec := model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX", Account: "a"}
	appendRecord(t, s, "stream1", rec)

	w := newWorker(t, s, processor.DefaultHandler)
	entries, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	w.dispatch(context.Background(), entries[0])

	pending, err := s.PendingRange("stream1", "group1", 0, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "successfully processed entry must be acked")
}

func TestDispatchDuplicateIsAckedWithoutReprocessing(t *testing.T) {
	s := newTestStores(t)
	rec := model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX", Account: "a"}
	appendRecord(t, s, "stream1", rec)

	calls := 0
	handler := processor.HandlerFunc(func(model.MailRecord) (processor.Result, error) {
		calls++
		return processor.Result{Processed: true}, nil
	})
	w := newWorker(t, s, handler)

	entries, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	w.dispatch(context.Background(), entries[0])
	require.Equal(t, 1, calls)

	appendRecord(t, s, "stream1", rec)
	entries2, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	w.dispatch(context.Background(), entries2[0])

	require.Equal(t, 1, calls, "handler must not run again for a duplicate natural key")
}

func TestDispatchInvariantViolationRoutesToDLQWithoutRetry(t *testing.T) {
	s := newTestStores(t)
	id, err := s.Append("stream1", map[string]string{"payload": "not json"}, 0)
	require.NoError(t, err)
	require.NoError(t, s.EnsureGroup("stream1", "group1", "0"))

	w := newWorker(t, s, processor.DefaultHandler)
	entries, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	w.dispatch(context.Background(), entries[0])

	pending, err := s.PendingRange("stream1", "group1", 0, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "malformed payload must be acked after dlq routing")

	dlqEntries, err := dlq.New(s, "dlq_stream", nil).Peek(10)
	require.NoError(t, err)
	require.Len(t, dlqEntries, 1)
	require.Equal(t, string(ingesterr.InvariantViolation), dlqEntries[0].Envelope.ErrorKind)
	require.Equal(t, id, dlqEntries[0].Envelope.OriginalEntryID)
}

func TestDispatchTransientFailureLeavesEntryPendingUntilRetriesExhausted(t *testing.T) {
	s := newTestStores(t)
	rec := model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX", Account: "a"}
	appendRecord(t, s, "stream1", rec)

	boom := errors.New("downstream unavailable")
	handler := processor.HandlerFunc(func(model.MailRecord) (processor.Result, error) {
		return processor.Result{}, ingesterr.Wrap(ingesterr.ProcessingTransient, "handler failed", boom)
	})
	w := newWorker(t, s, handler)

	entries, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	entry := entries[0]

	// MaxRetries=2: an entry reaches the DLQ after exactly MaxRetries+1
	// failures, so the first two failures each leave it pending and only
	// the third exhausts retries.
	w.dispatch(context.Background(), entry)
	pending, err := s.PendingRange("stream1", "group1", 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "first failure must leave the entry pending for redelivery")

	w.dispatch(context.Background(), entry)
	pending, err = s.PendingRange("stream1", "group1", 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "second failure must still leave the entry pending for redelivery")

	w.dispatch(context.Background(), entry)

	pending, err = s.PendingRange("stream1", "group1", 0, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "exhausted entry must be acked after dlq routing")

	dlqEntries, err := dlq.New(s, "dlq_stream", nil).Peek(10)
	require.NoError(t, err)
	require.Len(t, dlqEntries, 1)
}

func TestDispatchSuccessClearsBackoffState(t *testing.T) {
	s := newTestStores(t)
	rec := model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX", Account: "a"}
	appendRecord(t, s, "stream1", rec)

	failNext := true
	handler := processor.HandlerFunc(func(model.MailRecord) (processor.Result, error) {
		if failNext {
			failNext = false
			return processor.Result{}, ingesterr.Wrap(ingesterr.ProcessingTransient, "downstream hiccup", errors.New("boom"))
		}
		return processor.Result{Processed: true}, nil
	})
	w := newWorker(t, s, handler)

	entries, err := s.ReadGroup("stream1", "group1", "c1", 10, 0)
	require.NoError(t, err)
	entry := entries[0]

	w.dispatch(context.Background(), entry)
	require.Equal(t, 1, w.backoff.RetryCount(entry.ID), "failed attempt must be tracked")

	w.dispatch(context.Background(), entry)
	require.Equal(t, 0, w.backoff.RetryCount(entry.ID),
		"a later success must clear backoff state, not leak it until GC")
}

func TestRunGCStopsOnContextCancel(t *testing.T) {
	s := newTestStores(t)
	w := newWorker(t, s, processor.DefaultHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.RunGC(ctx, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC did not return after context cancellation")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestStores(t)
	w := newWorker(t, s, processor.DefaultHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
