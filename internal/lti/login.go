// internal/lti/login.go
package lti

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateTTL bounds how long a login initiation stays redeemable. Launches
// arriving after this window are rejected and the user must re-initiate.
const stateTTL = 15 * time.Minute

// StateStore tracks in-flight login initiations. Each state is redeemable at
// most once; Consume removes it.
type StateStore struct {
	mu      sync.Mutex
	pending map[string]pendingLogin
	now     func() time.Time
}

type pendingLogin struct {
	nonce     string
	createdAt time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{pending: map[string]pendingLogin{}, now: time.Now}
}

// Put registers a state/nonce pair and evicts expired entries.
func (s *StateStore) Put(state, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.pending {
		if now.Sub(p.createdAt) > stateTTL {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingLogin{nonce: nonce, createdAt: now}
}

// Consume redeems a state, returning its nonce. A state is valid exactly once
// and only within the TTL window.
func (s *StateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[state]
	if !ok {
		return "", false
	}
	delete(s.pending, state)
	if s.now().Sub(p.createdAt) > stateTTL {
		return "", false
	}
	return p.nonce, true
}

// LoginRedirector answers the third-party login initiation by building the
// authentication request back to the platform.
type LoginRedirector struct {
	platforms PlatformRegistry
	states    *StateStore
}

func NewLoginRedirector(platforms PlatformRegistry, states *StateStore) *LoginRedirector {
	return &LoginRedirector{platforms: platforms, states: states}
}

// BuildRedirect returns the platform auth URL carrying a fresh state and
// nonce. messageHint is echoed back verbatim when present.
func (r *LoginRedirector) BuildRedirect(ctx context.Context, issuer, loginHint, targetLinkURI, messageHint string) (string, error) {
	platform, err := r.platforms.GetPlatform(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("platform lookup: %w", err)
	}
	if platform == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, issuer)
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	r.states.Put(state, nonce)

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", platform.ClientID)
	q.Set("redirect_uri", targetLinkURI)
	q.Set("login_hint", loginHint)
	if messageHint != "" {
		q.Set("lti_message_hint", messageHint)
	}
	q.Set("state", state)
	q.Set("nonce", nonce)

	sep := "?"
	if u, err := url.Parse(platform.AuthURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return platform.AuthURL + sep + q.Encode(), nil
}
