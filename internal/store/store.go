// Package store implements the log store client and state store client of
// the pipeline on top of Redis Streams and Redis scalar/set commands:
// XADD/XREADGROUP/XACK/XPENDING/XCLAIM/XTRIM for the log, and
// GET/SET/SADD/SISMEMBER/EXPIRE for state.
package store

import "time"

// LogEntry is one record read back from a stream: its server-assigned ID
// and its field map (the primary stream carries a single "payload" field).
type LogEntry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry describes one entry sitting unacked in a consumer group.
type PendingEntry struct {
	EntryID       string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// LogStore is C1: the append-only, consumer-group dispatched log.
type LogStore interface {
	// Append writes fields as one new entry to stream, optionally trimming
	// the stream to approximately maxLen entries in the same call. A
	// maxLen of 0 disables trimming.
	Append(stream string, fields map[string]string, maxLen int64) (entryID string, err error)

	// EnsureGroup creates the consumer group at start ("$" for "only new
	// entries from now", "0" for "from the beginning") if it does not
	// already exist. An existing group is not an error (BUSYGROUP is
	// swallowed).
	EnsureGroup(stream, group, start string) error

	// ReadGroup reads up to count new entries for consumer in group,
	// blocking for up to block (0 = return immediately).
	ReadGroup(stream, group, consumer string, count int64, block time.Duration) ([]LogEntry, error)

	// Ack acknowledges one or more entries in group; idempotent.
	Ack(stream, group string, entryIDs ...string) error

	// PendingRange lists entries idle at least minIdle, up to count,
	// across all consumers in group.
	PendingRange(stream, group string, minIdle time.Duration, count int64) ([]PendingEntry, error)

	// Claim transfers ownership of entryIDs idle at least minIdle to
	// newConsumer, returning their current fields.
	Claim(stream, group, newConsumer string, minIdle time.Duration, entryIDs []string) ([]LogEntry, error)

	// Trim bounds stream to approximately maxLen entries when approximate
	// is true (the producer-safe mode that never blocks on exact trimming).
	Trim(stream string, maxLen int64, approximate bool) error

	// Len reports the current approximate length of stream (used by the
	// metrics depth poller).
	Len(stream string) (int64, error)

	// ReadRange returns up to count of the oldest entries in stream without
	// consuming them through a consumer group (used by the DLQ's peek).
	ReadRange(stream string, count int64) ([]LogEntry, error)

	// DeleteEntry removes one entry by ID from stream (used by DLQ
	// reprocess, which re-appends to the target stream then deletes the
	// original DLQ entry).
	DeleteEntry(stream, entryID string) error

	// Clear removes every entry from stream (operator-invoked DLQ purge).
	Clear(stream string) error
}

// StateStore is C2: durable scalar and set-membership storage for producer
// cursors and the idempotency set.
type StateStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error

	// SAdd adds member to set, reporting whether it was newly added.
	SAdd(set, member string) (added bool, err error)
	SIsMember(set, member string) (bool, error)
	Expire(key string, ttl time.Duration) error
	SCard(set string) (uint64, error)
}
