package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// outlookScope is the delegated IMAP scope for Microsoft's device-code
// public-client flow.
const outlookScope = "https://outlook.office.com/IMAP.AccessAsUser.All offline_access"

func outlookEndpoint(tenant string) oauth2.Endpoint {
	if tenant == "" {
		tenant = "common"
	}
	return oauth2.Endpoint{
		AuthURL:  "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/authorize",
		TokenURL: "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/token",
	}
}

// OutlookProvider implements Provider via the OAuth2 device-code flow,
// the flow Microsoft requires for public clients without a redirect URI.
type OutlookProvider struct {
	cfg   oauth2.Config
	file  tokenFile
	log   *zap.Logger
	token TokenTriple
	have  bool
}

// NewOutlookProvider builds an Outlook provider.
func NewOutlookProvider(clientID, tenant, tokenPath string, log *zap.Logger) *OutlookProvider {
	return &OutlookProvider{
		cfg: oauth2.Config{
			ClientID: clientID,
			Scopes:   []string{outlookScope},
			Endpoint: outlookEndpoint(tenant),
		},
		file: tokenFile{path: tokenPath},
		log:  log,
	}
}

// InteractiveSetup runs the device-authorization flow: it prints a
// verification URL and user code, then polls the token endpoint until the
// operator completes sign-in elsewhere.
func (p *OutlookProvider) InteractiveSetup(ctx context.Context) error {
	da, err := p.cfg.DeviceAuth(ctx)
	if err != nil {
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "starting device authorization", err)
	}

	p.log.Info("complete device sign-in to authorize outlook access",
		zap.String("verification_url", da.VerificationURI),
		zap.String("user_code", da.UserCode))

	tok, err := p.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return ingesterr.Wrap(ingesterr.AuthSetupRequired, "completing device authorization", err)
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
	p.log.Info("outlook token persisted", zap.String("path", p.file.path))
	return nil
}

func (p *OutlookProvider) ensureLoaded() error {
	if p.have {
		return nil
	}
	triple, ok, err := p.file.load()
	if err != nil {
		return err
	}
	if !ok {
		return ingesterr.New(ingesterr.AuthSetupRequired, "no persisted outlook token; run --auth-setup")
	}
	p.token, p.have = triple, true
	return nil
}

// AccessToken implements Provider.
func (p *OutlookProvider) AccessToken(ctx context.Context) (string, error) {
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
func (p *OutlookProvider) SASLXOAuth2(ctx context.Context, username string) ([]byte, error) {
	tok, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return saslXOAuth2(username, tok), nil
}

// Revoke implements Provider. Microsoft has no public-client revocation
// endpoint reachable without a confidential client secret, so revocation
// is local-only: the persisted triple is deleted, forcing interactive
// setup again on next use.
func (p *OutlookProvider) Revoke(ctx context.Context) error {
	_ = ctx
	p.have = false
	p.token = TokenTriple{}
	return p.file.remove()
}

// Info implements Provider.
func (p *OutlookProvider) Info() Info {
	return Info{Provider: "outlook", HasToken: p.have, ExpiresAt: p.token.ExpiresAt, Scopes: p.token.Scopes}
}
