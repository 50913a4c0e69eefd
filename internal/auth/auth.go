// Package auth obtains bearer tokens for progress callbacks using the OAuth2
// client-credentials grant. Failures are never fatal: a Provider reports the
// token as unavailable and callbacks are skipped.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/CZERTAINLY/echo-processor/internal/model"
)

// Token is a bearer token. Zero ExpiresAt means the token does not expire.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// LogValue hides the token value.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(slog.Time("expiresAt", t.ExpiresAt))
}

// Provider caches the token of one client-credentials configuration.
type Provider struct {
	cfg    *clientcredentials.Config
	client *http.Client
	margin time.Duration
	now    func() time.Time

	mx     sync.Mutex
	cached *Token
}

// NewProvider returns a Provider for keycloak. An incomplete keycloak
// configuration yields a Provider which is always unavailable.
func NewProvider(keycloak *model.Keycloak, client *http.Client, margin time.Duration) *Provider {
	p := &Provider{
		client: client,
		margin: margin,
		now:    time.Now,
	}
	if client == nil {
		p.client = http.DefaultClient
	}
	if keycloak.Complete() {
		p.cfg = &clientcredentials.Config{
			ClientID:     keycloak.ClientID,
			ClientSecret: keycloak.ClientSecret,
			TokenURL:     keycloak.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}
	return p
}

// Enabled is false when the configuration was absent or incomplete.
func (p *Provider) Enabled() bool {
	return p.cfg != nil
}

// Token returns a valid token and true, or false if none can be obtained.
// A cached token is returned until it gets within the safety margin of its
// expiry, then a new one is requested.
func (p *Provider) Token(ctx context.Context) (Token, bool) {
	if p.cfg == nil {
		return Token{}, false
	}

	p.mx.Lock()
	defer p.mx.Unlock()

	if p.cached != nil && p.fresh(*p.cached) {
		return *p.cached, true
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.cfg.Token(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to obtain token", "tokenUrl", p.cfg.TokenURL, "error", err)
		return Token{}, false
	}
	t := Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}
	if !p.fresh(t) {
		slog.WarnContext(ctx, "token expires within safety margin, it won't be cached", "token", t)
		return t, true
	}
	slog.InfoContext(ctx, "token obtained successfully", "token", t)
	p.cached = &t
	return t, true
}

func (p *Provider) fresh(t Token) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return p.now().Add(p.margin).Before(t.ExpiresAt)
}

// BearerToken returns only the token value.
func (p *Provider) BearerToken(ctx context.Context) (string, bool) {
	t, ok := p.Token(ctx)
	return t.Value, ok
}
