// Package dlq routes unrecoverable records to the dead-letter stream and
// provides the operator-facing peek/reprocess/clear surface over it.
package dlq

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// Collector is the subset of the metrics collector the router uses.
type Collector interface {
	DLQMessage()
}

// Router appends failed/invariant-violating records to a configured DLQ
// stream and offers operator inspection/recovery over it.
type Router struct {
	store     store.LogStore
	dlqStream string
	metrics   Collector
}

// New builds a Router bound to dlqStream.
func New(s store.LogStore, dlqStream string, metrics Collector) *Router {
	return &Router{store: s, dlqStream: dlqStream, metrics: metrics}
}

// SendToDLQ wraps payload in a DLQEnvelope and appends it to the DLQ stream.
func (r *Router) SendToDLQ(originalEntryID string, payload []byte, errorKind, errorMessage string, retryCount int) (string, error) {
	envelope := model.DLQEnvelope{
		OriginalEntryID: originalEntryID,
		OriginalPayload: payload,
		ErrorKind:       errorKind,
		ErrorMessage:    errorMessage,
		RetryCount:      retryCount,
		FailedAt:        time.Now(),
	}

	fields := map[string]string{
		"original_entry_id": envelope.OriginalEntryID,
		"payload":           string(envelope.OriginalPayload),
		"error_kind":        envelope.ErrorKind,
		"error_message":     envelope.ErrorMessage,
		"retry_count":       strconv.Itoa(envelope.RetryCount),
		"failed_at":         envelope.FailedAt.Format(time.RFC3339),
	}

	id, err := r.store.Append(r.dlqStream, fields, 0)
	if err != nil {
		return "", fmt.Errorf("appending to dlq stream: %w", err)
	}
	if r.metrics != nil {
		r.metrics.DLQMessage()
	}
	return id, nil
}

// Entry is one DLQ entry as exposed to operator tooling.
type Entry struct {
	ID       string
	Envelope model.DLQEnvelope
}

// Peek returns up to count of the oldest DLQ entries without removing them.
func (r *Router) Peek(count int64) ([]Entry, error) {
	logEntries, err := r.store.ReadRange(r.dlqStream, count)
	if err != nil {
		return nil, fmt.Errorf("reading dlq entries: %w", err)
	}

	out := make([]Entry, 0, len(logEntries))
	for _, le := range logEntries {
		out = append(out, Entry{ID: le.ID, Envelope: envelopeFromFields(le.Fields)})
	}
	return out, nil
}

func envelopeFromFields(fields map[string]string) model.DLQEnvelope {
	var env model.DLQEnvelope
	env.OriginalEntryID = fields["original_entry_id"]
	env.OriginalPayload = []byte(fields["payload"])
	env.ErrorKind = fields["error_kind"]
	env.ErrorMessage = fields["error_message"]
	env.RetryCount, _ = strconv.Atoi(fields["retry_count"])
	if t, err := time.Parse(time.RFC3339, fields["failed_at"]); err == nil {
		env.FailedAt = t
	}
	return env
}

// Reprocess re-appends a DLQ entry's original payload to targetStream and
// deletes the DLQ entry on success.
func (r *Router) Reprocess(dlqEntryID, targetStream string) (string, error) {
	entries, err := r.store.ReadRange(r.dlqStream, 0)
	if err != nil {
		return "", fmt.Errorf("reading dlq entries: %w", err)
	}

	var found *store.LogEntry
	for i := range entries {
		if entries[i].ID == dlqEntryID {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("dlq entry %s not found", dlqEntryID)
	}

	newID, err := r.store.Append(targetStream, map[string]string{"payload": found.Fields["payload"]}, 0)
	if err != nil {
		return "", fmt.Errorf("re-appending to %s: %w", targetStream, err)
	}

	if err := r.store.DeleteEntry(r.dlqStream, dlqEntryID); err != nil {
		return "", fmt.Errorf("deleting reprocessed dlq entry: %w", err)
	}

	return newID, nil
}

// Clear removes every entry from the DLQ stream.
func (r *Router) Clear() error {
	if err := r.store.Clear(r.dlqStream); err != nil {
		return fmt.Errorf("clearing dlq stream: %w", err)
	}
	return nil
}
