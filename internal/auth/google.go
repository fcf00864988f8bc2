package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// gmailScope is the full-mailbox IMAP scope required for XOAUTH2.
const gmailScope = "https://mail.google.com/"

// GoogleProvider implements Provider via the OAuth2 authorization-code
// flow with a loopback redirect URI, the flow Google requires for
// installed/CLI applications.
type GoogleProvider struct {
	cfg   oauth2.Config
	file  tokenFile
	log   *zap.Logger
	token TokenTriple
	have  bool
}

// NewGoogleProvider builds a Google provider; clientID/clientSecret come
// from config (env var or Vault), tokenPath is where the triple persists.
func NewGoogleProvider(clientID, clientSecret, tokenPath string, log *zap.Logger) *GoogleProvider {
	return &GoogleProvider{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{gmailScope},
			Endpoint:     google.Endpoint,
		},
		file: tokenFile{path: tokenPath},
		log:  log,
	}
}

// InteractiveSetup runs a one-time authorization-code exchange: it starts
// a loopback HTTP listener, opens the consent URL for the operator, and
// waits for Google's redirect carrying the authorization code.
func (p *GoogleProvider) InteractiveSetup(ctx context.Context) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "binding loopback listener", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)
	p.cfg.RedirectURL = redirectURL

	authURL := p.cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	p.log.Info("open this URL to authorize gmail access", zap.String("url", authURL))

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("authorization callback missing code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete, you may close this window.")
		codeCh <- code
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Close()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "authorization callback failed", err)
	case <-ctx.Done():
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "authorization interrupted", ctx.Err())
	}

	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "exchanging authorization code", err)
	}

	triple := TokenTriple{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       p.cfg.Scopes,
	}
	if err := p.file.save(triple); err != nil {
		return err
	}
	p.token, p.have = triple, true
	p.log.Info("gmail token persisted", zap.String("path", p.file.path))
	return nil
}

func (p *GoogleProvider) ensureLoaded() error {
	if p.have {
		return nil
	}
	triple, ok, err := p.file.load()
	if err != nil {
		return err
	}
	if !ok {
		return ingesterr.New(ingesterr.AuthSetupRequired, "no persisted gmail token; run --auth-setup")
	}
	p.token, p.have = triple, true
	return nil
}

// AccessToken implements Provider.
func (p *GoogleProvider) AccessToken(ctx context.Context) (string, error) {
	if err := p.ensureLoaded(); err != nil {
		return "", err
	}
	if !p.token.needsRefresh(time.Now()) {
		return p.token.AccessToken, nil
	}

	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: p.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", tokenErr(err)
	}

	p.token.AccessToken = tok.AccessToken
	p.token.ExpiresAt = tok.Expiry
	if tok.RefreshToken != "" {
		p.token.RefreshToken = tok.RefreshToken
	}
	if err := p.file.save(p.token); err != nil {
		return "", err
	}
	return p.token.AccessToken, nil
}

// SASLXOAuth2 implements Provider.
func (p *GoogleProvider) SASLXOAuth2(ctx context.Context, username string) ([]byte, error) {
	tok, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return saslXOAuth2(username, tok), nil
}

// Revoke implements Provider.
func (p *GoogleProvider) Revoke(ctx context.Context) error {
	if err := p.ensureLoaded(); err != nil && !ingesterr.Is(err, ingesterr.AuthSetupRequired) {
		return err
	}
	if p.token.AccessToken != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			"https://oauth2.googleapis.com/revoke?token="+p.token.AccessToken, nil)
		if err == nil {
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	p.have = false
	p.token = TokenTriple{}
	return p.file.remove()
}

// Info implements Provider.
func (p *GoogleProvider) Info() Info {
	return Info{Provider: "gmail", HasToken: p.have, ExpiresAt: p.token.ExpiresAt, Scopes: p.token.Scopes}
}
