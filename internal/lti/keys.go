// internal/lti/keys.go
package lti

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyMaterial holds the process-lifetime RSA key pair used to sign outbound
// client assertions, and publishes the public half as a JWKS. Generated once
// at startup; failure to generate is fatal to the service.
type KeyMaterial struct {
	kid  string
	priv *rsa.PrivateKey
	set  jwk.Set
}

// NewKeyMaterial generates a 2048-bit RSA key pair with a random key id.
func NewKeyMaterial() (*KeyMaterial, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("rsa generate: %w", err)
	}
	kid := uuid.NewString()

	pub, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwk from public key: %w", err)
	}
	_ = pub.Set(jwk.KeyIDKey, kid)
	_ = pub.Set(jwk.AlgorithmKey, "RS256")
	_ = pub.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("jwk set: %w", err)
	}

	return &KeyMaterial{kid: kid, priv: priv, set: set}, nil
}

// KeyID returns the key identifier carried in assertion headers.
func (k *KeyMaterial) KeyID() string { return k.kid }

// Private returns the signing key.
func (k *KeyMaterial) Private() *rsa.PrivateKey { return k.priv }

// PublishedKeySet returns the public-only JWKS.
func (k *KeyMaterial) PublishedKeySet() jwk.Set { return k.set }

// JWKSHandler serves the published key set at /.well-known/jwks.json.
func (k *KeyMaterial) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(k.set)
	}
}
