package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"strings"

	"github.com/eduflex/eduflex-go/internal/lti"
)

// PlatformAdmin registers LMS platforms that are allowed to launch into us.
type PlatformAdmin interface {
	UpsertPlatform(ctx context.Context, p lti.Platform) error
}

// UpsertPlatformHandler registers or updates a platform, keyed by issuer.
// Either a key set URL (JWKS verification, assertion token flow) or a client
// secret (shared-secret token flow) must be present.
func UpsertPlatformHandler(admin PlatformAdmin) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var p lti.Platform
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		p.Issuer = strings.TrimSpace(p.Issuer)
		if p.Issuer == "" || p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" {
			nethttp.Error(w, "issuer, client_id, auth_url and token_url required", nethttp.StatusBadRequest)
			return
		}
		if p.KeySetURL == "" && p.ClientSecret == "" {
			nethttp.Error(w, "keyset_url or client_secret required", nethttp.StatusBadRequest)
			return
		}
		if err := admin.UpsertPlatform(r.Context(), p); err != nil {
			nethttp.Error(w, "db error", nethttp.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"issuer": p.Issuer})
	}
}
