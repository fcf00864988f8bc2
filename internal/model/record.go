// Package model holds the wire-level record types shared by the producer
// and worker: the mail record, the producer cursor, and the DLQ envelope.
// Types are fixed structs with explicit fields rather than open maps, so
// schema mistakes surface at compile time instead of at runtime decode.
package model

import "time"

// MailRecord is the normalized record appended to the primary log by the
// producer and consumed by the worker.
type MailRecord struct {
	UID         uint64            `json:"uid"`
	UIDValidity uint64            `json:"uidvalidity"`
	Mailbox     string            `json:"mailbox"`
	Account     string            `json:"account"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Date        string            `json:"date"`
	MessageID   string            `json:"message_id"`
	Size        uint32            `json:"size"`
	Headers     map[string]string `json:"headers"`

	BodyText        string `json:"body_text"`
	BodyHTMLPreview string `json:"body_html_preview"`

	FetchedAt     time.Time `json:"fetched_at"`
	CorrelationID string    `json:"correlation_id"`
}

// NaturalKey returns the idempotency key: the tuple
// (account, mailbox, uidvalidity, uid) that globally identifies this record
// for the lifetime of the mailbox's current uidvalidity epoch.
func (m MailRecord) NaturalKey() string {
	return NaturalKey(m.Account, m.Mailbox, m.UIDValidity, m.UID)
}

// NaturalKey builds the natural-identity string from its components without
// requiring a materialized MailRecord (used by the worker when only the
// minimum schema has been decoded).
func NaturalKey(account, mailbox string, uidvalidity, uid uint64) string {
	return account + "|" + mailbox + "|" + uitoa(uidvalidity) + "|" + uitoa(uid)
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Cursor is the per-(account, mailbox) producer bookkeeping persisted in the
// state store.
type Cursor struct {
	LastUID     uint64    `json:"last_uid"`
	UIDValidity uint64    `json:"uidvalidity"`
	LastPollAt  time.Time `json:"last_poll_at"`
	TotalEmails uint64    `json:"total_emails"`
}

// DLQEnvelope wraps a failed or invariant-violating record with failure
// metadata before it is appended to the dead-letter stream.
type DLQEnvelope struct {
	OriginalEntryID string    `json:"original_entry_id"`
	OriginalPayload []byte    `json:"payload"`
	ErrorKind       string    `json:"error_kind"`
	ErrorMessage    string    `json:"error_message"`
	RetryCount      int       `json:"retry_count"`
	FailedAt        time.Time `json:"failed_at"`
}
