package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/auth"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/imapclient"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/model"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

type fakeAuthProvider struct{ token string }

func (f *fakeAuthProvider) InteractiveSetup(ctx context.Context) error { return nil }
func (f *fakeAuthProvider) AccessToken(ctx context.Context) (string, error) {
	return f.token, nil
}
func (f *fakeAuthProvider) SASLXOAuth2(ctx context.Context, username string) ([]byte, error) {
	return []byte("user=" + username + "\x01auth=Bearer " + f.token + "\x01\x01"), nil
}
func (f *fakeAuthProvider) Revoke(ctx context.Context) error { return nil }
func (f *fakeAuthProvider) Info() auth.Info                  { return auth.Info{Provider: "fake"} }

var _ auth.Provider = (*fakeAuthProvider)(nil)

type fakeSession struct {
	uidvalidity uint32
	messages    map[uint32]imapclient.FetchedMessage
	searchFrom  uint32
	loggedOut   bool
}

func (f *fakeSession) AuthenticateXOAUTH2(username, accessToken string) error { return nil }

func (f *fakeSession) SelectFolder(name string) (imapclient.MailboxInfo, error) {
	return imapclient.MailboxInfo{UIDValidity: f.uidvalidity, Exists: uint32(len(f.messages))}, nil
}

func (f *fakeSession) SearchUIDRange(sinceUIDExclusive uint32) ([]uint32, error) {
	f.searchFrom = sinceUIDExclusive
	var uids []uint32
	for uid := range f.messages {
		if uid > sinceUIDExclusive {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (f *fakeSession) Fetch(uid uint32, bodyPreviewBytes uint32) (imapclient.FetchedMessage, error) {
	return f.messages[uid], nil
}

func (f *fakeSession) Logout() error {
	f.loggedOut = true
	return nil
}

var _ imapclient.ImapSession = (*fakeSession)(nil)

type noopIdempotencyReset struct{ cleared bool }

func (n *noopIdempotencyReset) ClearEpoch(account, mailbox string, uidvalidity uint64) error {
	n.cleared = true
	return nil
}

func newTestStores(t *testing.T) (store.LogStore, store.StateStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := store.NewRedisClient(context.Background(), mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, rc
}

func TestFreshIngestAppendsAllMessagesInOrder(t *testing.T) {
	logStore, stateStore := newTestStores(t)
	sess := &fakeSession{
		uidvalidity: 700,
		messages: map[uint32]imapclient.FetchedMessage{
			10: {UID: 10, Subject: "a"},
			11: {UID: 11, Subject: "b"},
			12: {UID: 12, Subject: "c"},
		},
	}
	idem := &noopIdempotencyReset{}

	p := New(
		Settings{Account: "user@example.com", Mailbox: "INBOX", BatchSize: 50, PollInterval: time.Hour, PrimaryStream: "primary"},
		func() (imapclient.ImapSession, error) { return sess, nil },
		&fakeAuthProvider{token: "tok"},
		logStore, stateStore, idem,
		breaker.NewRegistry(), nil, zap.NewNop(),
	)

	require.NoError(t, p.cycle(context.Background(), zap.NewNop()))

	entries, err := logStore.ReadRange("primary", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var rec model.MailRecord
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["payload"]), &rec))
	require.Equal(t, uint64(10), rec.UID)
	require.Equal(t, uint64(700), rec.UIDValidity)

	cursor, ok, err := loadCursor(stateStore, "user@example.com", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12), cursor.LastUID)
	require.Equal(t, uint64(700), cursor.UIDValidity)
	require.Equal(t, uint64(3), cursor.TotalEmails)
	require.True(t, sess.loggedOut)
}

func TestUIDValidityChangeResetsCursorAndClearsIdempotency(t *testing.T) {
	logStore, stateStore := newTestStores(t)
	require.NoError(t, saveCursor(stateStore, "user@example.com", "INBOX", model.Cursor{UIDValidity: 700, LastUID: 12}))

	sess := &fakeSession{
		uidvalidity: 701,
		messages: map[uint32]imapclient.FetchedMessage{
			1: {UID: 1, Subject: "new epoch"},
			2: {UID: 2, Subject: "new epoch 2"},
		},
	}
	idem := &noopIdempotencyReset{}

	p := New(
		Settings{Account: "user@example.com", Mailbox: "INBOX", BatchSize: 50, PollInterval: time.Hour, PrimaryStream: "primary"},
		func() (imapclient.ImapSession, error) { return sess, nil },
		&fakeAuthProvider{token: "tok"},
		logStore, stateStore, idem,
		breaker.NewRegistry(), nil, zap.NewNop(),
	)

	require.NoError(t, p.cycle(context.Background(), zap.NewNop()))

	cursor, ok, err := loadCursor(stateStore, "user@example.com", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(701), cursor.UIDValidity)
	require.Equal(t, uint64(2), cursor.LastUID)

	require.Eventually(t, func() bool { return idem.cleared }, time.Second, time.Millisecond)
}

func TestEmptyResultOnlyUpdatesLastPollAt(t *testing.T) {
	logStore, stateStore := newTestStores(t)
	require.NoError(t, saveCursor(stateStore, "user@example.com", "INBOX", model.Cursor{UIDValidity: 700, LastUID: 99}))

	sess := &fakeSession{uidvalidity: 700, messages: map[uint32]imapclient.FetchedMessage{}}

	p := New(
		Settings{Account: "user@example.com", Mailbox: "INBOX", BatchSize: 50, PollInterval: time.Hour, PrimaryStream: "primary"},
		func() (imapclient.ImapSession, error) { return sess, nil },
		&fakeAuthProvider{token: "tok"},
		logStore, stateStore, &noopIdempotencyReset{},
		breaker.NewRegistry(), nil, zap.NewNop(),
	)

	require.NoError(t, p.cycle(context.Background(), zap.NewNop()))

	cursor, ok, err := loadCursor(stateStore, "user@example.com", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(99), cursor.LastUID, "last_uid must not change on an empty batch")
	require.False(t, cursor.LastPollAt.IsZero())
}

func TestDryRunDoesNotAppendButAdvancesCursor(t *testing.T) {
	logStore, stateStore := newTestStores(t)
	sess := &fakeSession{uidvalidity: 700, messages: map[uint32]imapclient.FetchedMessage{10: {UID: 10}}}

	p := New(
		Settings{Account: "a", Mailbox: "INBOX", BatchSize: 50, PollInterval: time.Hour, PrimaryStream: "primary", DryRun: true},
		func() (imapclient.ImapSession, error) { return sess, nil },
		&fakeAuthProvider{token: "tok"},
		logStore, stateStore, &noopIdempotencyReset{},
		breaker.NewRegistry(), nil, zap.NewNop(),
	)

	require.NoError(t, p.cycle(context.Background(), zap.NewNop()))

	entries, err := logStore.ReadRange("primary", 10)
	require.NoError(t, err)
	require.Empty(t, entries, "dry run must not append to the log")

	cursor, ok, err := loadCursor(stateStore, "a", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), cursor.LastUID)
}
