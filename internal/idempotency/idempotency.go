// Package idempotency implements the worker's duplicate-suppression
// filter: a Redis set of natural-identity keys, partitioned by
// (account, mailbox, uidvalidity) so a UIDVALIDITY reset can drop an
// entire epoch's membership in one key deletion instead of scanning.
package idempotency

import (
	"fmt"
	"time"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// Collector is the subset of the metrics collector the filter uses;
// satisfied by *metrics.Collector without this package importing
// internal/metrics.
type Collector interface {
	IdempotencyDuplicate()
}

// Filter deduplicates incoming records against a partitioned processed-set.
type Filter struct {
	store   store.StateStore
	ttl     time.Duration
	metrics Collector
}

// New builds a Filter. ttl of 0 means entries never expire.
func New(s store.StateStore, ttl time.Duration, metrics Collector) *Filter {
	return &Filter{store: s, ttl: ttl, metrics: metrics}
}

func setName(account, mailbox string, uidvalidity uint64) string {
	return fmt.Sprintf("idempotency:processed_ids:%s:%s:%d", account, mailbox, uidvalidity)
}

// IsDuplicate reports whether this natural identity has already been
// processed within its UIDVALIDITY epoch.
func (f *Filter) IsDuplicate(account, mailbox string, uidvalidity, uid uint64) (bool, error) {
	key := model.NaturalKey(account, mailbox, uidvalidity, uid)
	dup, err := f.store.SIsMember(setName(account, mailbox, uidvalidity), key)
	if err != nil {
		return false, fmt.Errorf("checking idempotency membership: %w", err)
	}
	if dup && f.metrics != nil {
		f.metrics.IdempotencyDuplicate()
	}
	return dup, nil
}

// MarkProcessed records the natural identity as processed, applying the
// configured TTL to the whole partition if one is set.
func (f *Filter) MarkProcessed(account, mailbox string, uidvalidity, uid uint64) error {
	key := model.NaturalKey(account, mailbox, uidvalidity, uid)
	set := setName(account, mailbox, uidvalidity)

	if _, err := f.store.SAdd(set, key); err != nil {
		return fmt.Errorf("recording idempotency membership: %w", err)
	}
	if f.ttl > 0 {
		if err := f.store.Expire(set, f.ttl); err != nil {
			return fmt.Errorf("setting idempotency partition ttl: %w", err)
		}
	}
	return nil
}

// ClearEpoch drops the entire processed-set for a (account, mailbox,
// uidvalidity) partition. Correctness-optional — freeing memory after a
// UIDVALIDITY reset, since the old partition will never be consulted
// again under the new epoch's keys.
func (f *Filter) ClearEpoch(account, mailbox string, uidvalidity uint64) error {
	if err := f.store.Delete(setName(account, mailbox, uidvalidity)); err != nil {
		return fmt.Errorf("clearing idempotency partition: %w", err)
	}
	return nil
}
