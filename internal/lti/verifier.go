// internal/lti/verifier.go
package lti

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/eduflex/eduflex-go/internal/metrics"
)

// Verifier validates inbound id_tokens against the issuing platform's
// published key set. Verification is never skipped: a platform without a key
// set URL fails closed.
type Verifier struct {
	platforms PlatformRegistry
	keys      *keySetCache
	log       zerolog.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

// NewVerifier builds a Verifier sharing an HTTP client for key-set fetches.
// keySetTTL bounds how long a platform's keys are reused without refetching.
func NewVerifier(platforms PlatformRegistry, client *http.Client, keySetTTL time.Duration, log zerolog.Logger) *Verifier {
	return &Verifier{
		platforms: platforms,
		keys:      newKeySetCache(client, keySetTTL),
		log:       log,
		Now:       time.Now,
	}
}

// VerifyLaunch checks the token's signature and claims and returns the
// verified claim set. expectedNonce is the nonce generated at login
// initiation; launches that omit or mismatch it are rejected.
func (v *Verifier) VerifyLaunch(ctx context.Context, rawToken, expectedNonce string) (VerifiedClaims, error) {
	claims, err := v.verify(ctx, rawToken, expectedNonce)
	if err != nil {
		metrics.LaunchesRejected.Inc()
		return VerifiedClaims{}, err
	}
	metrics.LaunchesVerified.Inc()
	v.log.Info().Str("issuer", claims.Issuer).Str("sub", claims.Subject).Msg("launch verified")
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, rawToken, expectedNonce string) (VerifiedClaims, error) {
	// Structural parse only, to learn the issuer. Nothing is trusted yet.
	unverified, err := jwt.ParseString(rawToken, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return VerifiedClaims{}, fmt.Errorf("%w: malformed token", ErrSignatureInvalid)
	}

	platform, err := v.platforms.GetPlatform(ctx, unverified.Issuer())
	if err != nil {
		return VerifiedClaims{}, fmt.Errorf("platform lookup: %w", err)
	}
	if platform == nil {
		return VerifiedClaims{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, unverified.Issuer())
	}
	if platform.KeySetURL == "" {
		return VerifiedClaims{}, ErrMissingKeySource
	}

	tok, err := v.verifySignature(ctx, rawToken, platform.KeySetURL)
	if err != nil {
		return VerifiedClaims{}, err
	}

	// The payload is trusted from here on.
	if !containsString(tok.Audience(), platform.ClientID) {
		return VerifiedClaims{}, ErrAudienceMismatch
	}
	if exp := tok.Expiration(); !exp.IsZero() && v.Now().After(exp) {
		return VerifiedClaims{}, ErrTokenExpired
	}
	if platform.DeploymentID != "" && stringClaim(tok, ClaimDeploymentID) != platform.DeploymentID {
		return VerifiedClaims{}, ErrDeploymentMismatch
	}
	nonce := stringClaim(tok, "nonce")
	if expectedNonce == "" || nonce == "" || nonce != expectedNonce {
		return VerifiedClaims{}, ErrNonceMismatch
	}

	claims := VerifiedClaims{
		Issuer:        tok.Issuer(),
		Subject:       tok.Subject(),
		Email:         stringClaim(tok, "email"),
		Name:          stringClaim(tok, "name"),
		Roles:         stringsClaim(tok, ClaimRoles),
		Nonce:         nonce,
		MessageType:   stringClaim(tok, ClaimMessageType),
		DeploymentID:  stringClaim(tok, ClaimDeploymentID),
		TargetLinkURI: stringClaim(tok, ClaimTargetLinkURI),
	}
	if rl, ok := mapClaim(tok, ClaimResourceLink); ok {
		claims.ResourceLinkID, _ = rl["id"].(string)
	}
	if ags, ok := mapClaim(tok, ClaimAGSEndpoint); ok {
		claims.LineItemURL, _ = ags["lineitem"].(string)
		claims.LineItemsURL, _ = ags["lineitems"].(string)
		claims.Scopes = toStrings(ags["scope"])
	}
	return claims, nil
}

// verifySignature selects the key matching the token's kid (RS256 only) from
// the platform's key set and checks the signature. A kid miss refetches the
// key set once before giving up, covering platform key rotation.
func (v *Verifier) verifySignature(ctx context.Context, rawToken, keySetURL string) (jwt.Token, error) {
	msg, err := jws.Parse([]byte(rawToken))
	if err != nil || len(msg.Signatures()) == 0 {
		return nil, fmt.Errorf("%w: malformed signature", ErrSignatureInvalid)
	}
	hdr := msg.Signatures()[0].ProtectedHeaders()
	if hdr.Algorithm() != jwa.RS256 {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrSignatureInvalid, hdr.Algorithm())
	}
	kid := hdr.KeyID()

	set, err := v.keys.Get(ctx, keySetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: key set fetch: %v", ErrSignatureInvalid, err)
	}
	key, ok := lookupKey(set, kid)
	if !ok {
		if set, err = v.keys.Refresh(ctx, keySetURL); err != nil {
			return nil, fmt.Errorf("%w: key set refresh: %v", ErrSignatureInvalid, err)
		}
		if key, ok = lookupKey(set, kid); !ok {
			return nil, fmt.Errorf("%w: no key for kid %q", ErrSignatureInvalid, kid)
		}
	}

	tok, err := jwt.ParseString(rawToken, jwt.WithKey(jwa.RS256, key), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return tok, nil
}

func lookupKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	// Some platforms publish a single unlabeled key.
	if set.Len() == 1 {
		return set.Key(0)
	}
	return nil, false
}

/* ---------------------------- claim helpers ------------------------------- */

func stringClaim(tok jwt.Token, name string) string {
	if v, ok := tok.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringsClaim(tok jwt.Token, name string) []string {
	v, ok := tok.Get(name)
	if !ok {
		return nil
	}
	return toStrings(v)
}

func mapClaim(tok jwt.Token, name string) (map[string]any, bool) {
	if v, ok := tok.Get(name); ok {
		if m, ok := v.(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, it := range vv {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
