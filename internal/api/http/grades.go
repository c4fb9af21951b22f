package http

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduflex/eduflex-go/internal/lti"
)

// Handlers only — routes remain in main.go

// SyncGradeHandler pushes a user's score for a course back to the platform
// gradebook. The response reports whether the platform accepted the score;
// a user with no gradeable launch simply yields synced=false.
func SyncGradeHandler(gs *lti.GradeSync) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		courseID := chi.URLParam(r, "courseID")
		var req struct {
			UserID string  `json:"user_id"`
			Score  float64 `json:"score"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			nethttp.Error(w, "bad json", nethttp.StatusBadRequest)
			return
		}
		if req.Score < 0 || req.Score > gs.ScoreMaximum {
			nethttp.Error(w, "score out of range", nethttp.StatusBadRequest)
			return
		}
		ok := gs.SyncGrade(r.Context(), req.UserID, courseID, req.Score)
		_ = json.NewEncoder(w).Encode(map[string]any{"synced": ok})
	}
}
