package lti_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/eduflex/eduflex-go/internal/lti"
)

type tokenEndpoint struct {
	server    *httptest.Server
	calls     int
	status    int
	expiresIn int64
	lastForm  map[string]string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{status: 200, expiresIn: 3600}
	te.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.calls++
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", 400)
			return
		}
		te.lastForm = map[string]string{}
		for k := range r.PostForm {
			te.lastForm[k] = r.PostForm.Get(k)
		}
		if te.status/100 != 2 {
			http.Error(w, "denied", te.status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", te.calls),
			"token_type":   "Bearer",
			"expires_in":   te.expiresIn,
		})
	}))
	t.Cleanup(te.server.Close)
	return te
}

func newBroker(t *testing.T, te *tokenEndpoint, secret string) (*lti.TokenBroker, *lti.KeyMaterial) {
	t.Helper()
	keys, err := lti.NewKeyMaterial()
	if err != nil {
		t.Fatalf("key material: %v", err)
	}
	store := lti.NewMemoryStore()
	store.AddPlatform(lti.Platform{
		Issuer:       "https://platform.example",
		ClientID:     "client-1",
		TokenURL:     te.server.URL,
		ClientSecret: secret,
	})
	return lti.NewTokenBroker(store, keys, te.server.Client(), zerolog.Nop()), keys
}

func TestAccessToken_AssertionFlow(t *testing.T) {
	te := newTokenEndpoint(t)
	b, keys := newBroker(t, te, "")

	tok, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("token = %q", tok)
	}
	if te.lastForm["grant_type"] != "client_credentials" {
		t.Fatalf("grant_type = %q", te.lastForm["grant_type"])
	}
	if te.lastForm["client_assertion_type"] != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		t.Fatalf("client_assertion_type = %q", te.lastForm["client_assertion_type"])
	}
	if te.lastForm["scope"] != lti.ScopeScore {
		t.Fatalf("scope = %q", te.lastForm["scope"])
	}

	assertion := te.lastForm["client_assertion"]
	parsed, err := jwt.ParseString(assertion, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	if parsed.Issuer() != "client-1" || parsed.Subject() != "client-1" {
		t.Fatalf("iss/sub = %q/%q", parsed.Issuer(), parsed.Subject())
	}
	if len(parsed.Audience()) != 1 || parsed.Audience()[0] != te.server.URL {
		t.Fatalf("aud = %v", parsed.Audience())
	}
	if parsed.JwtID() == "" {
		t.Fatalf("jti missing")
	}
	if got := parsed.Expiration().Sub(parsed.IssuedAt()); got != 60*time.Second {
		t.Fatalf("assertion lifetime = %v", got)
	}

	msg, err := jws.Parse([]byte(assertion))
	if err != nil {
		t.Fatalf("parse assertion header: %v", err)
	}
	if kid := msg.Signatures()[0].ProtectedHeaders().KeyID(); kid != keys.KeyID() {
		t.Fatalf("assertion kid = %q, want %q", kid, keys.KeyID())
	}
}

// A cached token is reused until it gets within 10s of expiry.
func TestAccessToken_CacheMargin(t *testing.T) {
	te := newTokenEndpoint(t)
	te.expiresIn = 60
	b, _ := newBroker(t, te, "")

	start := time.Now()
	now := start
	b.Now = func() time.Time { return now }

	if _, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if te.calls != 1 {
		t.Fatalf("calls = %d", te.calls)
	}

	now = start.Add(49 * time.Second)
	tok, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if tok != "tok-1" || te.calls != 1 {
		t.Fatalf("expected cache hit, token=%q calls=%d", tok, te.calls)
	}

	now = start.Add(51 * time.Second)
	tok, err = b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if tok != "tok-2" || te.calls != 2 {
		t.Fatalf("expected refetch inside margin, token=%q calls=%d", tok, te.calls)
	}
}

// Tokens for different scopes never share a cache slot.
func TestAccessToken_ScopeIsolation(t *testing.T) {
	te := newTokenEndpoint(t)
	b, _ := newBroker(t, te, "")

	a, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("score token: %v", err)
	}
	c, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeLineItem)
	if err != nil {
		t.Fatalf("lineitem token: %v", err)
	}
	if a == c || te.calls != 2 {
		t.Fatalf("scopes shared a token: %q %q calls=%d", a, c, te.calls)
	}
}

func TestAccessToken_EndpointRejects(t *testing.T) {
	te := newTokenEndpoint(t)
	te.status = 401
	b, _ := newBroker(t, te, "")

	_, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if !errors.Is(err, lti.ErrTokenExchangeFailed) {
		t.Fatalf("want ErrTokenExchangeFailed, got %v", err)
	}
}

func TestAccessToken_UnknownIssuer(t *testing.T) {
	te := newTokenEndpoint(t)
	b, _ := newBroker(t, te, "")

	_, err := b.AccessToken(context.Background(), "https://rogue.example", lti.ScopeScore)
	if !errors.Is(err, lti.ErrUnknownPlatform) {
		t.Fatalf("want ErrUnknownPlatform, got %v", err)
	}
}

// flakyTransport fails the first request, then delegates.
type flakyTransport struct {
	failed bool
	next   http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !f.failed {
		f.failed = true
		return nil, errors.New("connection reset")
	}
	return f.next.RoundTrip(r)
}

func TestAccessToken_RetriesTransportError(t *testing.T) {
	te := newTokenEndpoint(t)
	keys, err := lti.NewKeyMaterial()
	if err != nil {
		t.Fatalf("key material: %v", err)
	}
	store := lti.NewMemoryStore()
	store.AddPlatform(lti.Platform{
		Issuer:   "https://platform.example",
		ClientID: "client-1",
		TokenURL: te.server.URL,
	})
	client := &http.Client{Transport: &flakyTransport{next: http.DefaultTransport}}
	b := lti.NewTokenBroker(store, keys, client, zerolog.Nop())

	tok, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if tok == "" || te.calls != 1 {
		t.Fatalf("token=%q server calls=%d", tok, te.calls)
	}
}

func TestAccessToken_SecretFlow(t *testing.T) {
	var gotID, gotSecret string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotID, gotSecret = r.FormValue("client_id"), r.FormValue("client_secret")
		if gotID == "" {
			gotID, gotSecret, _ = r.BasicAuth()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "secret-tok", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer server.Close()

	keys, err := lti.NewKeyMaterial()
	if err != nil {
		t.Fatalf("key material: %v", err)
	}
	store := lti.NewMemoryStore()
	store.AddPlatform(lti.Platform{
		Issuer:       "https://platform.example",
		ClientID:     "client-1",
		TokenURL:     server.URL,
		ClientSecret: "s3cret",
	})
	b := lti.NewTokenBroker(store, keys, server.Client(), zerolog.Nop())

	tok, err := b.AccessToken(context.Background(), "https://platform.example", lti.ScopeScore)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "secret-tok" {
		t.Fatalf("token = %q", tok)
	}
	if gotID != "client-1" || gotSecret != "s3cret" {
		t.Fatalf("credentials = %q/%q", gotID, gotSecret)
	}
}
