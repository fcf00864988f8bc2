package processor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
)

func TestProcessRejectsMissingUID(t *testing.T) {
	p := New(DefaultHandler)

	_, err := p.Process(model.MailRecord{Mailbox: "INBOX", UIDValidity: 700})
	require.Error(t, err)
	require.True(t, ingesterr.Is(err, ingesterr.InvariantViolation))
}

func TestProcessRejectsMissingMailbox(t *testing.T) {
	p := New(DefaultHandler)

	_, err := p.Process(model.MailRecord{UID: 1, UIDValidity: 700})
	require.Error(t, err)
	require.True(t, ingesterr.Is(err, ingesterr.InvariantViolation))
}

func TestProcessAcceptsValidRecord(t *testing.T) {
	p := New(DefaultHandler)

	res, err := p.Process(model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX", Account: "acct"})
	require.NoError(t, err)
	require.True(t, res.Processed)
}

func TestProcessSurfacesHandlerError(t *testing.T) {
	boom := errors.New("downstream unavailable")
	p := New(HandlerFunc(func(model.MailRecord) (Result, error) {
		return Result{}, ingesterr.Wrap(ingesterr.ProcessingTransient, "handler failed", boom)
	}))

	_, err := p.Process(model.MailRecord{UID: 1, UIDValidity: 700, Mailbox: "INBOX"})
	require.Error(t, err)
	require.True(t, ingesterr.Is(err, ingesterr.ProcessingTransient))
}
