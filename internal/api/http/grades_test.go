package http_test

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	api "github.com/eduflex/eduflex-go/internal/api/http"
	"github.com/eduflex/eduflex-go/internal/lti"
)

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context, string, string) (string, error) {
	return "tok", nil
}

func gradeRouter(t *testing.T, scoresURL string) (*chi.Mux, *lti.MemoryStore) {
	t.Helper()
	store := lti.NewMemoryStore()
	if scoresURL != "" {
		_ = store.UpsertLaunch(context.Background(), lti.LaunchContext{
			ID: "l-1", UserID: "u-1", PlatformIssuer: "https://platform.example",
			Subject: "sub-1", ResourceLinkID: "rl-1",
			TargetLinkURI: "https://tool.example/courses/42/home", CourseID: "42",
			LineItemURL: scoresURL, CreatedAt: time.Now(),
		})
	}
	gs := lti.NewGradeSync(store, staticTokens{}, nil, 1.0, zerolog.Nop())
	r := chi.NewRouter()
	r.Post("/courses/{courseID}/grades", api.SyncGradeHandler(gs))
	return r, store
}

func TestSyncGradeHandler(t *testing.T) {
	platform := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(200)
	}))
	defer platform.Close()
	r, _ := gradeRouter(t, platform.URL+"/li/9")

	req := httptest.NewRequest(nethttp.MethodPost, "/courses/42/grades",
		strings.NewReader(`{"user_id":"u-1","score":0.8}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["synced"] {
		t.Fatalf("synced = false")
	}
}

func TestSyncGradeHandler_NoLaunch(t *testing.T) {
	r, _ := gradeRouter(t, "")

	req := httptest.NewRequest(nethttp.MethodPost, "/courses/42/grades",
		strings.NewReader(`{"user_id":"u-unknown","score":0.8}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]bool
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp["synced"] {
		t.Fatalf("synced = true for unknown user")
	}
}

func TestSyncGradeHandler_BadRequests(t *testing.T) {
	r, _ := gradeRouter(t, "")

	for _, body := range []string{
		`not json`,
		`{"score":0.5}`,                  // missing user
		`{"user_id":"u-1","score":-0.1}`, // below range
		`{"user_id":"u-1","score":1.5}`,  // above configured maximum
	} {
		req := httptest.NewRequest(nethttp.MethodPost, "/courses/42/grades", strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != nethttp.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}
}
