// Package auth implements the auth provider: OAuth2 token acquisition,
// persistent refresh, and SASL XOAUTH2 assembly for both supported IMAP
// providers. It follows the outbound-port shape of
// other_examples/8877df7b_BbangMxn-worker's EmailProviderPort (an
// interface wrapping *oauth2.Token operations), generalized down to the
// single concern the producer actually needs: a current access token and
// its SASL encoding.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// refreshSkew is how far ahead of expiry a token is preemptively refreshed.
const refreshSkew = 5 * time.Minute

// TokenTriple is the JSON shape persisted to disk: access/refresh tokens,
// expiry, and the scopes they were granted under.
type TokenTriple struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
}

func (t TokenTriple) needsRefresh(now time.Time) bool {
	return t.RefreshToken == "" || now.Add(refreshSkew).After(t.ExpiresAt)
}

// Info is the read-only summary exposed for operator tooling.
type Info struct {
	Provider  string
	HasToken  bool
	ExpiresAt time.Time
	Scopes    []string
}

// Provider is the common surface both Google and Microsoft variants
// implement; the producer depends only on this interface.
type Provider interface {
	// InteractiveSetup acquires and persists an initial token triple.
	InteractiveSetup(ctx context.Context) error

	// AccessToken returns a current, non-expired access token, refreshing
	// and persisting first if it is within the refresh skew of expiring.
	AccessToken(ctx context.Context) (string, error)

	// SASLXOAuth2 builds the SASL XOAUTH2 initial-response bytes for
	// username using the current access token.
	SASLXOAuth2(ctx context.Context, username string) ([]byte, error)

	Revoke(ctx context.Context) error
	Info() Info
}

// tokenFile persists and loads a TokenTriple at path with owner-only
// permissions, matching the 0600 file-mode requirement.
type tokenFile struct {
	path string
}

func (f tokenFile) load() (TokenTriple, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return TokenTriple{}, false, nil
	}
	if err != nil {
		return TokenTriple{}, false, fmt.Errorf("reading token file %s: %w", f.path, err)
	}
	var t TokenTriple
	if err := json.Unmarshal(data, &t); err != nil {
		return TokenTriple{}, false, fmt.Errorf("decoding token file %s: %w", f.path, err)
	}
	return t, true, nil
}

func (f tokenFile) save(t TokenTriple) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file %s: %w", f.path, err)
	}
	return nil
}

func (f tokenFile) remove() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file %s: %w", f.path, err)
	}
	return nil
}

// saslXOAuth2 builds the raw SASL XOAUTH2 initial-response string:
// "user={user}\x01auth=Bearer {token}\x01\x01".
func saslXOAuth2(username, accessToken string) []byte {
	return []byte("user=" + username + "\x01auth=Bearer " + accessToken + "\x01\x01")
}

func tokenErr(err error) error {
	return ingesterr.Wrap(ingesterr.TokenRefreshFailed, "token refresh failed", err)
}
