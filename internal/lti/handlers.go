// internal/lti/handlers.go
package lti

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SessionCookieName carries the local session issued after a launch.
const SessionCookieName = "eduflex_session"

// LoginHandler accepts the third-party login initiation (GET or form POST)
// and bounces the browser to the platform's auth endpoint.
func LoginHandler(redirector *LoginRedirector, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		iss := formOrQuery(r, "iss")
		loginHint := formOrQuery(r, "login_hint")
		target := formOrQuery(r, "target_link_uri")
		if iss == "" || loginHint == "" || target == "" {
			http.Error(w, "iss, login_hint and target_link_uri required", http.StatusBadRequest)
			return
		}

		dest, err := redirector.BuildRedirect(r.Context(), iss, loginHint, target, formOrQuery(r, "lti_message_hint"))
		if err != nil {
			log.Warn().Err(err).Str("issuer", iss).Msg("login initiation rejected")
			http.Error(w, "unknown platform", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, dest, http.StatusFound)
	}
}

// LaunchHandler receives the platform's id_token POST, verifies it, and
// provisions the user. Failures get one opaque message; the reason is logged,
// not echoed, so a forged token learns nothing from the response.
//
// secureCookies reflects the externally visible scheme, not the local
// listener. Behind a TLS-terminating proxy r.TLS is nil while the browser
// still talks https, and a SameSite=None cookie without Secure is dropped.
func LaunchHandler(verifier *Verifier, provisioner *Provisioner, states *StateStore, sessionTTL time.Duration, secureCookies bool, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		idToken := r.PostFormValue("id_token")
		if idToken == "" {
			http.Error(w, "missing id_token", http.StatusBadRequest)
			return
		}

		nonce, ok := states.Consume(r.PostFormValue("state"))
		if !ok {
			log.Warn().Msg("launch with missing or expired state")
			http.Error(w, "could not start launch", http.StatusUnauthorized)
			return
		}

		claims, err := verifier.VerifyLaunch(r.Context(), idToken, nonce)
		if err != nil {
			log.Warn().Err(err).Msg("launch verification failed")
			http.Error(w, "could not start launch", http.StatusUnauthorized)
			return
		}

		session, user, err := provisioner.Provision(r.Context(), claims)
		if err != nil {
			log.Error().Err(err).Str("issuer", claims.Issuer).Str("sub", claims.Subject).Msg("provisioning failed")
			http.Error(w, "could not start launch", http.StatusUnauthorized)
			return
		}

		cookie := &http.Cookie{
			Name:     SessionCookieName,
			Value:    session,
			Path:     "/",
			MaxAge:   int(sessionTTL / time.Second),
			HttpOnly: true,
			Secure:   secureCookies,
			SameSite: http.SameSiteNoneMode,
		}
		if !secureCookies {
			// Browsers refuse SameSite=None without Secure, so plain-http
			// deployments fall back to Lax.
			cookie.SameSite = http.SameSiteLaxMode
		}
		http.SetCookie(w, cookie)
		log.Info().Str("user", user.ID).Str("target", claims.TargetLinkURI).Msg("launch complete")
		http.Redirect(w, r, claims.TargetLinkURI, http.StatusFound)
	}
}

func formOrQuery(r *http.Request, name string) string {
	if v := r.PostFormValue(name); v != "" {
		return v
	}
	return r.URL.Query().Get(name)
}
