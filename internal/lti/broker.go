// internal/lti/broker.go
package lti

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/eduflex/eduflex-go/internal/metrics"
)

// tokenSafetyMargin is subtracted from a token's lifetime before it is
// served from cache; a token within this margin of expiry is reacquired.
const tokenSafetyMargin = 10 * time.Second

const defaultExpiresIn = 3600 * time.Second

type tokenKey struct {
	issuer string
	scope  string
}

type cachedToken struct {
	value      string
	acquiredAt time.Time
	expiresIn  time.Duration
}

func (c cachedToken) freshAt(now time.Time) bool {
	return now.Sub(c.acquiredAt) < c.expiresIn-tokenSafetyMargin
}

// TokenBroker obtains platform access tokens via the client_credentials grant
// and caches them per (issuer, scope). Platforms registered with a shared
// secret use the plain secret flow; the rest authenticate with a signed
// client assertion.
type TokenBroker struct {
	platforms PlatformRegistry
	keys      *KeyMaterial
	client    *http.Client
	log       zerolog.Logger

	mu    sync.RWMutex
	cache map[tokenKey]cachedToken

	secretMu sync.Mutex
	secrets  map[tokenKey]*clientcredentials.Config

	// Now is overridable in tests.
	Now func() time.Time
}

func NewTokenBroker(platforms PlatformRegistry, keys *KeyMaterial, client *http.Client, log zerolog.Logger) *TokenBroker {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenBroker{
		platforms: platforms,
		keys:      keys,
		client:    client,
		log:       log,
		cache:     map[tokenKey]cachedToken{},
		secrets:   map[tokenKey]*clientcredentials.Config{},
		Now:       time.Now,
	}
}

// AccessToken returns a bearer token for the given issuer and scope, from
// cache when fresh.
func (b *TokenBroker) AccessToken(ctx context.Context, issuer, scope string) (string, error) {
	key := tokenKey{issuer: issuer, scope: scope}

	b.mu.RLock()
	cached, ok := b.cache[key]
	b.mu.RUnlock()
	if ok && cached.freshAt(b.Now()) {
		metrics.TokenCacheHits.Inc()
		return cached.value, nil
	}

	platform, err := b.platforms.GetPlatform(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("platform lookup: %w", err)
	}
	if platform == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, issuer)
	}

	var token cachedToken
	if platform.ClientSecret != "" {
		token, err = b.fetchWithSecret(ctx, platform, scope, key)
	} else {
		token, err = b.fetchWithAssertion(ctx, platform, scope)
	}
	if err != nil {
		metrics.TokenExchangeFailures.Inc()
		return "", err
	}
	metrics.TokenExchanges.Inc()

	b.mu.Lock()
	b.cache[key] = token
	b.mu.Unlock()
	return token.value, nil
}

// fetchWithSecret runs the standard client_credentials flow for platforms
// registered with a shared secret.
func (b *TokenBroker) fetchWithSecret(ctx context.Context, platform *Platform, scope string, key tokenKey) (cachedToken, error) {
	b.secretMu.Lock()
	cfg, ok := b.secrets[key]
	if !ok {
		cfg = &clientcredentials.Config{
			ClientID:     platform.ClientID,
			ClientSecret: platform.ClientSecret,
			TokenURL:     platform.TokenURL,
			Scopes:       strings.Fields(scope),
		}
		b.secrets[key] = cfg
	}
	b.secretMu.Unlock()

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, b.client))
	if err != nil {
		return cachedToken{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	expires := defaultExpiresIn
	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(b.Now()); d > 0 {
			expires = d
		}
	}
	return cachedToken{value: tok.AccessToken, acquiredAt: b.Now(), expiresIn: expires}, nil
}

// fetchWithAssertion performs the private_key_jwt client_credentials exchange.
// Transport errors are retried once; the token request is idempotent.
func (b *TokenBroker) fetchWithAssertion(ctx context.Context, platform *Platform, scope string) (cachedToken, error) {
	assertion, err := b.signAssertion(platform)
	if err != nil {
		return cachedToken{}, fmt.Errorf("sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", scope)

	resp, err := b.postForm(ctx, platform.TokenURL, form)
	if err != nil {
		b.log.Warn().Err(err).Str("issuer", platform.Issuer).Msg("token request failed, retrying")
		if resp, err = b.postForm(ctx, platform.TokenURL, form); err != nil {
			return cachedToken{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cachedToken{}, fmt.Errorf("%w: read response: %v", ErrTokenExchangeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cachedToken{}, fmt.Errorf("%w: status %d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return cachedToken{}, fmt.Errorf("%w: malformed token response", ErrTokenExchangeFailed)
	}

	expires := defaultExpiresIn
	if payload.ExpiresIn > 0 {
		expires = time.Duration(payload.ExpiresIn) * time.Second
	}
	return cachedToken{value: payload.AccessToken, acquiredAt: b.Now(), expiresIn: expires}, nil
}

func (b *TokenBroker) postForm(ctx context.Context, tokenURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.client.Do(req)
}

// signAssertion builds the short-lived client authentication JWT. iss and sub
// are both the tool's client_id, aud is the token endpoint.
func (b *TokenBroker) signAssertion(platform *Platform) (string, error) {
	now := b.Now()
	claims := jwt.MapClaims{
		"iss": platform.ClientID,
		"sub": platform.ClientID,
		"aud": platform.TokenURL,
		"iat": now.Unix(),
		"exp": now.Add(60 * time.Second).Unix(),
		"jti": uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = b.keys.KeyID()
	return tok.SignedString(b.keys.Private())
}
