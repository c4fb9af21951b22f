package http

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduflex/eduflex-go/internal/lti"
	"github.com/eduflex/eduflex-go/internal/rbac"
)

// ListLineItemsHandler shows the platform's gradebook columns for a course,
// resolved through the caller's own most recent launch into it.
func ListLineItemsHandler(launches lti.LaunchStore, client *lti.LineItemClient) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sub := rbac.SubjectFromContext(r.Context())
		if sub == "" {
			nethttp.Error(w, "unauthorized", nethttp.StatusUnauthorized)
			return
		}
		courseID := chi.URLParam(r, "courseID")

		all, err := launches.ListLaunchesByUser(r.Context(), sub)
		if err != nil {
			nethttp.Error(w, "db error", nethttp.StatusInternalServerError)
			return
		}
		var launch *lti.LaunchContext
		for i, l := range all {
			if l.LineItemsURL == "" {
				continue
			}
			if l.MatchesCourse(courseID) {
				launch = &all[i]
				break
			}
		}
		if launch == nil {
			nethttp.Error(w, "no launch for course", nethttp.StatusNotFound)
			return
		}

		items, err := client.ListLineItems(r.Context(), launch.PlatformIssuer, launch.LineItemsURL, launch.ResourceLinkID)
		if err != nil {
			nethttp.Error(w, "platform error", nethttp.StatusBadGateway)
			return
		}
		if items == nil {
			items = []lti.LineItem{}
		}
		_ = json.NewEncoder(w).Encode(items)
	}
}
