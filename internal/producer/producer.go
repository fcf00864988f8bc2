// Package producer implements the incremental IMAP polling loop: observe
// UIDVALIDITY, reset the cursor on epoch change, search the new UID
// range, fetch and append each record to the primary log, and advance
// the persisted cursor — adapted from
// apps/discovery-service/internal/worker/scan_poller.go's
// ticker-driven Run(ctx)/poll/processX shape, generalized from a
// Postgres job queue to an IMAP mailbox and a Redis Streams log.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/auth"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/corrid"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/imapclient"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// MetricsSink is the subset of the metrics collector the producer uses.
type MetricsSink interface {
	EmailProduced()
	IMAPPoll()
	ObserveIMAPPollDuration(d time.Duration)
}

// SessionDialer opens a fresh, authenticated IMAP session for one poll
// cycle. Returning a factory (rather than holding one long-lived Session)
// mirrors the cursor engine's per-cycle "acquire an IMAP session" step.
type SessionDialer func() (imapclient.ImapSession, error)

// IdempotencyReset is the narrow idempotency capability the producer
// needs on a UIDVALIDITY change; internal/idempotency.Filter satisfies it.
type IdempotencyReset interface {
	ClearEpoch(account, mailbox string, uidvalidity uint64) error
}

// Settings configures one (account, mailbox) polling loop.
type Settings struct {
	Account      string
	Mailbox      string
	BatchSize    int
	PollInterval time.Duration
	MaxStreamLen int64
	DryRun       bool

	PrimaryStream string

	// BodyPreviewBytes caps how much of a message body is fetched and
	// stored; 0 defaults to 2048 (2 KiB).
	BodyPreviewBytes uint32
}

// Producer runs the cursor engine for one (account, mailbox) pair.
type Producer struct {
	settings     Settings
	dial         SessionDialer
	authProvider auth.Provider
	logStore     store.LogStore
	stateStore   store.StateStore
	idempotency  IdempotencyReset
	breakers     *breaker.Registry
	metrics      MetricsSink
	log          *zap.Logger
}

// New builds a Producer.
func New(
	settings Settings,
	dial SessionDialer,
	authProvider auth.Provider,
	logStore store.LogStore,
	stateStore store.StateStore,
	idempotency IdempotencyReset,
	breakers *breaker.Registry,
	metrics MetricsSink,
	log *zap.Logger,
) *Producer {
	if settings.BodyPreviewBytes == 0 {
		settings.BodyPreviewBytes = 2048
	}
	return &Producer{
		settings:     settings,
		dial:         dial,
		authProvider: authProvider,
		logStore:     logStore,
		stateStore:   stateStore,
		idempotency:  idempotency,
		breakers:     breakers,
		metrics:      metrics,
		log:          log,
	}
}

// Run blocks, polling on settings.PollInterval until ctx is done or stop
// is closed.
func (p *Producer) Run(ctx context.Context, stop <-chan struct{}) {
	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(p.settings.PollInterval):
		}
	}
}

// pollOnce runs exactly one cursor-engine cycle, logging and counting
// failures rather than propagating them — the loop always continues to
// the next scheduled poll.
func (p *Producer) pollOnce(ctx context.Context) {
	corr := corrid.From(ctx)
	if corr == "" {
		ctx, corr = corrid.WithNew(ctx)
	}
	log := p.log.With(zap.String("correlation_id", corr), zap.String("account", p.settings.Account), zap.String("mailbox", p.settings.Mailbox))

	start := time.Now()
	if p.metrics != nil {
		p.metrics.IMAPPoll()
	}

	if err := p.cycle(ctx, log); err != nil {
		log.Warn("poll cycle failed", zap.Error(err))
	}

	if p.metrics != nil {
		p.metrics.ObserveIMAPPollDuration(time.Since(start))
	}
}

func (p *Producer) cycle(ctx context.Context, log *zap.Logger) error {
	imapBreaker := p.breakers.Register("imap", breaker.Settings{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})
	redisBreaker := p.breakers.Register("redis", breaker.Settings{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2})

	var sess imapclient.ImapSession
	if err := imapBreaker.Execute(func() error {
		s, err := p.dial()
		if err != nil {
			return err
		}
		sess = s
		return nil
	}); err != nil {
		return fmt.Errorf("acquiring imap session: %w", err)
	}
	defer sess.Logout()

	accessToken, err := p.authProvider.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}

	if err := imapBreaker.Execute(func() error {
		return sess.AuthenticateXOAUTH2(p.settings.Account, accessToken)
	}); err != nil {
		return fmt.Errorf("authenticating imap session: %w", err)
	}

	var mbox imapclient.MailboxInfo
	if err := imapBreaker.Execute(func() error {
		m, err := sess.SelectFolder(p.settings.Mailbox)
		if err != nil {
			return err
		}
		mbox = m
		return nil
	}); err != nil {
		return fmt.Errorf("selecting folder: %w", err)
	}

	var cursor model.Cursor
	if err := redisBreaker.Execute(func() error {
		c, _, err := loadCursor(p.stateStore, p.settings.Account, p.settings.Mailbox)
		cursor = c
		return err
	}); err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}

	if cursor.UIDValidity != 0 && cursor.UIDValidity != uint64(mbox.UIDValidity) {
		log.Warn("uidvalidity changed, resetting cursor",
			zap.Uint64("previous_uidvalidity", cursor.UIDValidity),
			zap.Uint64("new_uidvalidity", uint64(mbox.UIDValidity)),
		)
		previousValidity := cursor.UIDValidity
		cursor.UIDValidity = uint64(mbox.UIDValidity)
		cursor.LastUID = 0
		if err := redisBreaker.Execute(func() error {
			return saveCursor(p.stateStore, p.settings.Account, p.settings.Mailbox, cursor)
		}); err != nil {
			return fmt.Errorf("persisting reset cursor: %w", err)
		}
		go func() {
			if err := p.idempotency.ClearEpoch(p.settings.Account, p.settings.Mailbox, previousValidity); err != nil {
				log.Warn("failed to clear stale idempotency partition", zap.Error(err))
			}
		}()
	} else if cursor.UIDValidity == 0 {
		cursor.UIDValidity = uint64(mbox.UIDValidity)
	}

	var uids []uint32
	if err := imapBreaker.Execute(func() error {
		u, err := sess.SearchUIDRange(uint32(cursor.LastUID))
		uids = u
		return err
	}); err != nil {
		return fmt.Errorf("searching uid range: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > p.settings.BatchSize {
		uids = uids[:p.settings.BatchSize]
	}

	if len(uids) == 0 {
		cursor.LastPollAt = time.Now()
		return redisBreaker.Execute(func() error {
			return saveCursor(p.stateStore, p.settings.Account, p.settings.Mailbox, cursor)
		})
	}

	appended := 0
	highestAppended := cursor.LastUID
	// Once a fetch fails, the cursor stops advancing so the failed UID is
	// searched again on the next cycle.
	fetchFailed := false
	for _, uid := range uids {
		var msg imapclient.FetchedMessage
		err := imapBreaker.Execute(func() error {
			m, err := sess.Fetch(uid, p.settings.BodyPreviewBytes)
			msg = m
			return err
		})
		if err != nil {
			log.Warn("fetch failed, will retry this uid next cycle", zap.Uint32("uid", uid), zap.Error(err))
			fetchFailed = true
			continue
		}

		record := toMailRecord(msg, p.settings.Account, p.settings.Mailbox, cursor.UIDValidity, corrid.From(ctx))
		payload, err := json.Marshal(record)
		if err != nil {
			log.Warn("failed to encode record, skipping", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}

		if p.settings.DryRun {
			appended++
			if !fetchFailed {
				highestAppended = uint64(uid)
			}
			continue
		}

		appendErr := redisBreaker.Execute(func() error {
			_, err := p.logStore.Append(p.settings.PrimaryStream, map[string]string{"payload": string(payload)}, p.settings.MaxStreamLen)
			return err
		})
		if appendErr != nil {
			return fmt.Errorf("appending batch, aborting mid-batch: %w", appendErr)
		}

		appended++
		if !fetchFailed {
			highestAppended = uint64(uid)
		}
		if p.metrics != nil {
			p.metrics.EmailProduced()
		}
	}

	if appended == 0 {
		return nil
	}

	cursor.LastUID = highestAppended
	cursor.LastPollAt = time.Now()
	cursor.TotalEmails += uint64(appended)

	return redisBreaker.Execute(func() error {
		return saveCursor(p.stateStore, p.settings.Account, p.settings.Mailbox, cursor)
	})
}

func toMailRecord(msg imapclient.FetchedMessage, account, mailbox string, uidvalidity uint64, corr string) model.MailRecord {
	return model.MailRecord{
		UID:             uint64(msg.UID),
		UIDValidity:     uidvalidity,
		Mailbox:         mailbox,
		Account:         account,
		From:            msg.From,
		To:              msg.To,
		Subject:         msg.Subject,
		Date:            msg.Date,
		MessageID:       msg.MessageID,
		Size:            msg.Size,
		Headers:         msg.Headers,
		BodyText:        msg.BodyText,
		BodyHTMLPreview: msg.BodyHTMLPreview,
		FetchedAt:       time.Now(),
		CorrelationID:   corr,
	}
}
