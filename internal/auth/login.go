// internal/auth/login.go
package auth

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AdminLoginHandler exchanges the configured administrator credentials for a
// session with the admin role. Platform registrations are bootstrapped through
// this path before any launch can succeed. When no password hash is
// configured the endpoint always rejects.
func AdminLoginHandler(a *AuthService, adminUser, adminPassHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if adminPassHash == "" || req.Username != adminUser ||
			bcrypt.CompareHashAndPassword([]byte(adminPassHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueSession(req.Username, "admin")
		if err != nil {
			http.Error(w, "could not issue session", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(loginResp{AccessToken: tok, TokenType: "Bearer"})
	}
}
