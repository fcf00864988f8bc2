package imapclient

// ImapSession is the interface the producer depends on; *Session
// satisfies it. Exists so tests can substitute a fake session instead
// of dialing a real IMAP server.
type ImapSession interface {
	AuthenticateXOAUTH2(username, accessToken string) error
	SelectFolder(name string) (MailboxInfo, error)
	SearchUIDRange(sinceUIDExclusive uint32) ([]uint32, error)
	Fetch(uid uint32, bodyPreviewBytes uint32) (FetchedMessage, error)
	Logout() error
}

var _ ImapSession = (*Session)(nil)
