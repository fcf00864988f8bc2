package producer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

// cursorKeys returns the four State Store keys that together hold the
// persisted cursor for (account, mailbox).
func cursorKeys(account, mailbox string) (lastUID, uidvalidity, lastPoll, totalEmails string) {
	prefix := fmt.Sprintf("producer_state:%s:%s:", account, mailbox)
	return prefix + "last_uid", prefix + "uidvalidity", prefix + "last_poll", prefix + "total_emails"
}

// loadCursor reads the persisted cursor, returning a zero Cursor (and
// present=false) if none has been written yet.
func loadCursor(s store.StateStore, account, mailbox string) (model.Cursor, bool, error) {
	kUID, kValidity, kPoll, kTotal := cursorKeys(account, mailbox)

	uidStr, ok, err := s.Get(kUID)
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("reading %s: %w", kUID, err)
	}
	if !ok {
		return model.Cursor{}, false, nil
	}

	var cur model.Cursor
	cur.LastUID, err = strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("decoding %s=%q: %w", kUID, uidStr, err)
	}

	if v, ok, err := s.Get(kValidity); err != nil {
		return model.Cursor{}, false, fmt.Errorf("reading %s: %w", kValidity, err)
	} else if ok {
		cur.UIDValidity, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return model.Cursor{}, false, fmt.Errorf("decoding %s=%q: %w", kValidity, v, err)
		}
	}

	if v, ok, err := s.Get(kPoll); err != nil {
		return model.Cursor{}, false, fmt.Errorf("reading %s: %w", kPoll, err)
	} else if ok {
		cur.LastPollAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return model.Cursor{}, false, fmt.Errorf("decoding %s=%q: %w", kPoll, v, err)
		}
	}

	if v, ok, err := s.Get(kTotal); err != nil {
		return model.Cursor{}, false, fmt.Errorf("reading %s: %w", kTotal, err)
	} else if ok {
		cur.TotalEmails, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return model.Cursor{}, false, fmt.Errorf("decoding %s=%q: %w", kTotal, v, err)
		}
	}

	return cur, true, nil
}

// saveCursor persists every field of cur for (account, mailbox).
func saveCursor(s store.StateStore, account, mailbox string, cur model.Cursor) error {
	kUID, kValidity, kPoll, kTotal := cursorKeys(account, mailbox)

	if err := s.Set(kUID, strconv.FormatUint(cur.LastUID, 10)); err != nil {
		return fmt.Errorf("writing %s: %w", kUID, err)
	}
	if err := s.Set(kValidity, strconv.FormatUint(cur.UIDValidity, 10)); err != nil {
		return fmt.Errorf("writing %s: %w", kValidity, err)
	}
	if err := s.Set(kPoll, cur.LastPollAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("writing %s: %w", kPoll, err)
	}
	if err := s.Set(kTotal, strconv.FormatUint(cur.TotalEmails, 10)); err != nil {
		return fmt.Errorf("writing %s: %w", kTotal, err)
	}
	return nil
}
