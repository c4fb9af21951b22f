package lti_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduflex/eduflex-go/internal/lti"
)

type launchRig struct {
	platform *fakePlatform
	store    *lti.MemoryStore
	states   *lti.StateStore
	login    http.HandlerFunc
	launch   http.HandlerFunc
	sessions *fakeSessions
}

func newLaunchRig(t *testing.T, secureCookies bool) *launchRig {
	t.Helper()
	p := newFakePlatform(t)
	store := lti.NewMemoryStore()
	store.AddPlatform(basePlatform(p))
	states := lti.NewStateStore()
	sessions := &fakeSessions{}

	verifier := lti.NewVerifier(store, &http.Client{Timeout: 5 * time.Second}, 10*time.Minute, zerolog.Nop())
	provisioner := lti.NewProvisioner(store, store, sessions, zerolog.Nop())
	return &launchRig{
		platform: p,
		store:    store,
		states:   states,
		sessions: sessions,
		login:    lti.LoginHandler(lti.NewLoginRedirector(store, states), zerolog.Nop()),
		launch:   lti.LaunchHandler(verifier, provisioner, states, time.Hour, secureCookies, zerolog.Nop()),
	}
}

// initiate runs the login redirect and returns the state and nonce the
// platform would echo back.
func (rig *launchRig) initiate(t *testing.T) (state, nonce string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet,
		"/lti/login?iss=https://platform.example&login_hint=h-1&target_link_uri=https://tool.example/courses/42/home", nil)
	rec := httptest.NewRecorder()
	rig.login(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d", rec.Code)
	}
	u, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	return u.Query().Get("state"), u.Query().Get("nonce")
}

func (rig *launchRig) postLaunch(t *testing.T, idToken, state string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("id_token", idToken)
	form.Set("state", state)
	req := httptest.NewRequest(http.MethodPost, "/lti/launch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	rig.launch(rec, req)
	return rec
}

func TestLaunchFlow_EndToEnd(t *testing.T) {
	rig := newLaunchRig(t, false)
	state, nonce := rig.initiate(t)

	raw := rig.platform.signToken(t, tokenOpts{
		issuer: "https://platform.example", audience: "client-1",
		nonce: nonce, deployment: "dep-1", exp: time.Now().Add(5 * time.Minute),
	})
	rec := rig.postLaunch(t, raw, state)
	if rec.Code != http.StatusFound {
		t.Fatalf("launch status = %d body=%q", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "https://tool.example/courses/42/home" {
		t.Fatalf("redirect = %q", loc)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == lti.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("session cookie not set")
	}
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}
	if rig.sessions.issued != 1 {
		t.Fatalf("sessions issued = %d", rig.sessions.issued)
	}
}

// The Secure attribute follows the configured public scheme, not the local
// listener. A gateway behind a TLS-terminating proxy sees plain-http requests
// but must still mark the cookie Secure or browsers drop SameSite=None.
func TestLaunchFlow_SecureCookieBehindProxy(t *testing.T) {
	rig := newLaunchRig(t, true)
	state, nonce := rig.initiate(t)

	raw := rig.platform.signToken(t, tokenOpts{
		issuer: "https://platform.example", audience: "client-1",
		nonce: nonce, deployment: "dep-1", exp: time.Now().Add(5 * time.Minute),
	})
	rec := rig.postLaunch(t, raw, state)
	if rec.Code != http.StatusFound {
		t.Fatalf("launch status = %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == lti.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("session cookie not set")
	}
	if !cookie.Secure {
		t.Fatalf("cookie not marked Secure despite https public URL")
	}
	if cookie.SameSite != http.SameSiteNoneMode {
		t.Fatalf("SameSite = %v, want None for cross-site launches", cookie.SameSite)
	}
}

func TestLaunchFlow_ReplayedState(t *testing.T) {
	rig := newLaunchRig(t, false)
	state, nonce := rig.initiate(t)

	raw := rig.platform.signToken(t, tokenOpts{
		issuer: "https://platform.example", audience: "client-1",
		nonce: nonce, deployment: "dep-1", exp: time.Now().Add(5 * time.Minute),
	})
	if rec := rig.postLaunch(t, raw, state); rec.Code != http.StatusFound {
		t.Fatalf("first launch status = %d", rec.Code)
	}
	// Same state again: rejected, with the opaque message.
	rec := rig.postLaunch(t, raw, state)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "could not start launch") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestLaunchFlow_UnknownState(t *testing.T) {
	rig := newLaunchRig(t, false)
	_, nonce := rig.initiate(t)
	raw := rig.platform.signToken(t, tokenOpts{
		issuer: "https://platform.example", audience: "client-1",
		nonce: nonce, deployment: "dep-1", exp: time.Now().Add(5 * time.Minute),
	})
	if rec := rig.postLaunch(t, raw, "forged-state"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

// A failed verification must not leak why. The body stays identical for a bad
// signature and a bad audience.
func TestLaunchFlow_OpaqueFailure(t *testing.T) {
	rig := newLaunchRig(t, false)

	state1, nonce1 := rig.initiate(t)
	badAud := rig.platform.signToken(t, tokenOpts{
		issuer: "https://platform.example", audience: "someone-else",
		nonce: nonce1, deployment: "dep-1", exp: time.Now().Add(5 * time.Minute),
	})
	rec1 := rig.postLaunch(t, badAud, state1)

	state2, _ := rig.initiate(t)
	rec2 := rig.postLaunch(t, "not-a-jwt", state2)

	if rec1.Code != http.StatusUnauthorized || rec2.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", rec1.Code, rec2.Code)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("failure bodies differ: %q vs %q", rec1.Body.String(), rec2.Body.String())
	}
}

func TestLoginHandler_MissingParams(t *testing.T) {
	rig := newLaunchRig(t, false)
	req := httptest.NewRequest(http.MethodGet, "/lti/login?iss=https://platform.example", nil)
	rec := httptest.NewRecorder()
	rig.login(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
