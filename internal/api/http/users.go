package http

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/eduflex/eduflex-go/internal/lti"
)

func ListUsersHandler(users lti.UserStore) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		out, err := users.ListUsers(r.Context())
		if err != nil {
			nethttp.Error(w, "db error", nethttp.StatusInternalServerError)
			return
		}
		if out == nil {
			out = []lti.LocalUser{}
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
