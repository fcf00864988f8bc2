// Package orphan implements the periodic pending-entry sweep: entries
// left unacked past an idle threshold are reclaimed for the sweeping
// consumer, unless they have exceeded the maximum delivery count, in
// which case they are routed directly to the dead-letter log.
package orphan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/dlq"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// Collector is the subset of the metrics collector the sweep uses.
type Collector interface {
	OrphanClaimed()
}

// Settings configures one sweep cycle.
type Settings struct {
	Stream        string
	Group         string
	Consumer      string
	MinIdle       time.Duration
	MaxClaim      int64
	MaxDelivery   int64
	RecoveryEvery time.Duration
}

// Sweeper reclaims or dead-letters pending entries on a schedule.
type Sweeper struct {
	store    store.LogStore
	dlq      *dlq.Router
	settings Settings
	metrics  Collector
}

// New builds a Sweeper.
func New(s store.LogStore, d *dlq.Router, settings Settings, metrics Collector) *Sweeper {
	if settings.RecoveryEvery <= 0 {
		settings.RecoveryEvery = 30 * time.Second
	}
	return &Sweeper{store: s, dlq: d, settings: settings, metrics: metrics}
}

// SweepOnce runs a single pending-range scan/claim/DLQ pass, returning how
// many entries were reclaimed and how many were routed to DLQ.
func (s *Sweeper) SweepOnce() (claimed int, deadLettered int, err error) {
	pending, err := s.store.PendingRange(s.settings.Stream, s.settings.Group, s.settings.MinIdle, s.settings.MaxClaim)
	if err != nil {
		return 0, 0, fmt.Errorf("listing pending entries: %w", err)
	}

	var toClaim []string
	excessive := make(map[string]store.PendingEntry)
	for _, p := range pending {
		if p.DeliveryCount > s.settings.MaxDelivery {
			excessive[p.EntryID] = p
			continue
		}
		toClaim = append(toClaim, p.EntryID)
	}

	if len(excessive) > 0 {
		// Claim the excessive-redelivery entries too, under the sweeper's
		// own consumer, purely to read back their fields — PendingRange
		// carries no payload, and the original payload must survive into
		// the DLQ envelope for dlq.Router.Reprocess to work later.
		ids := make([]string, 0, len(excessive))
		for id := range excessive {
			ids = append(ids, id)
		}
		entries, err := s.store.Claim(s.settings.Stream, s.settings.Group, s.settings.Consumer, s.settings.MinIdle, ids)
		if err != nil {
			return claimed, deadLettered, fmt.Errorf("claiming excessive-redelivery entries: %w", err)
		}
		for _, e := range entries {
			p := excessive[e.ID]
			if err := s.deadLetter(p, []byte(e.Fields["payload"])); err != nil {
				return claimed, deadLettered, err
			}
			deadLettered++
		}
	}

	if len(toClaim) == 0 {
		return claimed, deadLettered, nil
	}

	entries, err := s.store.Claim(s.settings.Stream, s.settings.Group, s.settings.Consumer, s.settings.MinIdle, toClaim)
	if err != nil {
		return claimed, deadLettered, fmt.Errorf("claiming pending entries: %w", err)
	}
	claimed = len(entries)
	if s.metrics != nil {
		for i := 0; i < claimed; i++ {
			s.metrics.OrphanClaimed()
		}
	}
	return claimed, deadLettered, nil
}

func (s *Sweeper) deadLetter(p store.PendingEntry, payload []byte) error {
	if _, err := s.dlq.SendToDLQ(p.EntryID, payload, string(ingesterr.ExcessiveRedelivery),
		fmt.Sprintf("delivery_count %d exceeded max_delivery %d", p.DeliveryCount, s.settings.MaxDelivery),
		int(p.DeliveryCount)); err != nil {
		return fmt.Errorf("routing orphan to dlq: %w", err)
	}
	if err := s.store.Ack(s.settings.Stream, s.settings.Group, p.EntryID); err != nil {
		return fmt.Errorf("acking dead-lettered orphan: %w", err)
	}
	return nil
}

// Run blocks, sweeping on a ticker until ctx is cancelled. An initial
// sweep runs immediately, matching the "runs at worker start" requirement.
func (s *Sweeper) Run(ctx context.Context, log *zap.Logger) {
	ticker := time.NewTicker(s.settings.RecoveryEvery)
	defer ticker.Stop()

	s.sweepAndLog(log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(log)
		}
	}
}

func (s *Sweeper) sweepAndLog(log *zap.Logger) {
	claimed, deadLettered, err := s.SweepOnce()
	if err != nil {
		log.Warn("orphan sweep failed", zap.Error(err))
		return
	}
	if claimed > 0 || deadLettered > 0 {
		log.Info("orphan sweep", zap.Int("claimed", claimed), zap.Int("dead_lettered", deadLettered))
	}
}
