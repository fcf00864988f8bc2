// Package imapclient wraps github.com/emersion/go-imap's v1 client into
// the narrow interface the producer needs: connect, XOAUTH2
// authenticate, select a folder, search a UID range, fetch with
// BODY.PEEK, and logout. The wrapper shape (a struct holding the driver
// client plus a *zap.Logger, exposing a handful of intent-named methods)
// follows the monorepo's natsclient.Client shape.
package imapclient

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// headerFields lists the header names copied into FetchedMessage.Headers.
// A fixed allow-list (rather than every header verbatim) keeps the Mail
// Record bounded and avoids leaking routing/auth headers best kept server
// side (Received, Authentication-Results, ...).
var headerFields = []string{
	"From", "To", "Cc", "Reply-To", "Subject", "Date", "Message-Id", "Content-Type", "In-Reply-To",
}

// MailboxInfo is returned by SelectFolder.
type MailboxInfo struct {
	UIDValidity uint32
	Exists      uint32
}

// FetchedMessage is one message returned by Fetch.
type FetchedMessage struct {
	UID             uint32
	From            string
	To              []string
	Subject         string
	Date            string
	MessageID       string
	Size            uint32
	Headers         map[string]string
	BodyText        string
	BodyHTMLPreview string
	InternalTime    string
}

// Session is a connected, authenticated IMAP session. Not safe for
// concurrent use — the producer holds exactly one per account.
type Session struct {
	c   *client.Client
	log *zap.Logger
}

// Dial connects to host:port over TLS, or over plaintext when useTLS is
// false (IMAP_TLS=false in config).
func Dial(host string, port int, useTLS bool, log *zap.Logger) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	var c *client.Client
	var err error
	if useTLS {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: host})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ImapTransport, "dialing imap server", err)
	}

	return &Session{c: c, log: log}, nil
}

// AuthenticateXOAUTH2 performs SASL XOAUTH2 authentication using the
// given username and access token.
func (s *Session) AuthenticateXOAUTH2(username, accessToken string) error {
	sc := newXOAuth2Client(username, accessToken)
	if err := s.c.Authenticate(sc); err != nil {
		return ingesterr.Wrap(ingesterr.ImapAuth, "xoauth2 authentication failed", err)
	}
	return nil
}

// SelectFolder selects mailbox and returns its UIDVALIDITY and message
// count.
func (s *Session) SelectFolder(name string) (MailboxInfo, error) {
	mbox, err := s.c.Select(name, false)
	if err != nil {
		return MailboxInfo{}, ingesterr.Wrap(ingesterr.ImapProtocol, "selecting mailbox "+name, err)
	}
	return MailboxInfo{UIDValidity: mbox.UidValidity, Exists: mbox.Messages}, nil
}

// SearchUIDRange returns, in ascending order, every UID in the selected
// mailbox strictly greater than sinceUIDExclusive.
func (s *Session) SearchUIDRange(sinceUIDExclusive uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	set := new(imap.SeqSet)
	if sinceUIDExclusive == 0 {
		set.AddRange(1, 0) // 1:* — the whole mailbox on first poll
	} else {
		set.AddRange(sinceUIDExclusive+1, 0)
	}
	criteria.Uid = set

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ImapProtocol, "uid search failed", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	out := uids[:0]
	for _, u := range uids {
		if u > sinceUIDExclusive {
			out = append(out, u)
		}
	}
	return out, nil
}

// Fetch retrieves envelope, selected headers, and a bounded body preview
// for uid using BODY.PEEK so the \Seen flag is never mutated.
func (s *Session) Fetch(uid uint32, bodyPreviewBytes uint32) (FetchedMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
	}
	headerSection := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		imap.FetchRFC822Size,
		imap.FetchInternalDate,
		section.FetchItem(),
		headerSection.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return FetchedMessage{}, ingesterr.Wrap(ingesterr.ImapProtocol, "fetch failed", err)
	}
	if msg == nil {
		return FetchedMessage{}, ingesterr.New(ingesterr.ImapProtocol, fmt.Sprintf("uid %d not found on fetch", uid))
	}

	out := FetchedMessage{UID: uid, Headers: map[string]string{}}
	if msg.Envelope != nil {
		if len(msg.Envelope.From) > 0 {
			out.From = msg.Envelope.From[0].Address()
		}
		for _, a := range msg.Envelope.To {
			out.To = append(out.To, a.Address())
		}
		out.Subject = msg.Envelope.Subject
		out.MessageID = msg.Envelope.MessageId
		out.Date = msg.Envelope.Date.Format("2006-01-02T15:04:05Z07:00")
	}
	out.Size = msg.Size
	out.InternalTime = msg.InternalDate.Format("2006-01-02T15:04:05Z07:00")

	var contentType string
	if hdrBody := msg.GetBody(headerSection); hdrBody != nil {
		if hdr, err := textproto.ReadHeader(bufio.NewReader(hdrBody)); err != nil {
			s.log.Warn("failed to parse message headers", zap.Uint32("uid", uid), zap.Error(err))
		} else {
			for _, name := range headerFields {
				if v := hdr.Get(name); v != "" {
					out.Headers[name] = v
				}
			}
			contentType = hdr.Get("Content-Type")
		}
	}

	if body := msg.GetBody(section); body != nil {
		buf := make([]byte, bodyPreviewBytes)
		n, _ := body.Read(buf)
		preview := string(buf[:n])
		if strings.Contains(strings.ToLower(contentType), "text/html") {
			out.BodyHTMLPreview = preview
		} else {
			out.BodyText = preview
		}
	}

	return out, nil
}

// Logout gracefully ends the session and closes the connection.
func (s *Session) Logout() error {
	if err := s.c.Logout(); err != nil {
		s.log.Warn("imap logout failed, closing anyway", zap.Error(err))
	}
	return s.c.Close()
}
