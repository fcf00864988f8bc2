// Package processor validates and dispatches decoded mail records. It
// enforces the minimum schema the worker loop depends on and delegates
// everything else to a pluggable Handler, matching the validate-then-call
// shape of a typical consumer dispatch stage.
package processor

import (
	"fmt"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
)

// Result is what a Handler returns on success.
type Result struct {
	Processed bool
	Detail    interface{}
}

// Handler implements the business logic applied to a validated record. It
// must be deterministic with respect to the record's natural identity so
// that worker retries are safe to re-run.
type Handler interface {
	Handle(record model.MailRecord) (Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(record model.MailRecord) (Result, error)

func (f HandlerFunc) Handle(record model.MailRecord) (Result, error) { return f(record) }

// Processor validates the minimum schema before invoking the handler.
type Processor struct {
	handler Handler
}

// New builds a Processor around handler.
func New(handler Handler) *Processor {
	return &Processor{handler: handler}
}

// Process validates record's minimum schema ({uid, mailbox, uidvalidity})
// and, if valid, dispatches to the configured handler. A missing field is
// an InvariantViolation: non-retryable, routed directly to DLQ by the
// worker loop.
func (p *Processor) Process(record model.MailRecord) (Result, error) {
	if err := validateMinimumSchema(record); err != nil {
		return Result{}, err
	}
	return p.handler.Handle(record)
}

func validateMinimumSchema(record model.MailRecord) error {
	if record.Mailbox == "" {
		return ingesterr.New(ingesterr.InvariantViolation, "record missing mailbox")
	}
	if record.UIDValidity == 0 {
		return ingesterr.New(ingesterr.InvariantViolation, "record missing uidvalidity")
	}
	if record.UID == 0 {
		return ingesterr.New(ingesterr.InvariantViolation, "record missing uid")
	}
	return nil
}

// DefaultHandler is the minimal handler used when no domain-specific
// classification logic is configured: it accepts every validated record.
var DefaultHandler Handler = HandlerFunc(func(record model.MailRecord) (Result, error) {
	return Result{Processed: true, Detail: fmt.Sprintf("accepted %s", record.NaturalKey())}, nil
})
