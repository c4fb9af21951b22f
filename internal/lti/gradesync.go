// internal/lti/gradesync.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduflex/eduflex-go/internal/metrics"
)

const scoreContentType = "application/vnd.ims.lis.v1.score+json"

// AccessTokenSource yields bearer tokens for platform API calls.
type AccessTokenSource interface {
	AccessToken(ctx context.Context, issuer, scope string) (string, error)
}

// Score is the AGS score publication payload.
type Score struct {
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	Timestamp        string  `json:"timestamp"`
}

// GradeSync pushes grades back to the launching platform's gradebook via AGS.
// Sync is best effort: the caller learns whether the post landed, never an
// error, and a user with no matching launch is simply skipped.
type GradeSync struct {
	launches LaunchStore
	tokens   AccessTokenSource
	client   *http.Client
	log      zerolog.Logger

	// ScoreMaximum is the denominator reported with every score.
	ScoreMaximum float64

	// Now is overridable in tests.
	Now func() time.Time
}

func NewGradeSync(launches LaunchStore, tokens AccessTokenSource, client *http.Client, scoreMax float64, log zerolog.Logger) *GradeSync {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if scoreMax <= 0 {
		scoreMax = 1.0
	}
	return &GradeSync{launches: launches, tokens: tokens, client: client, ScoreMaximum: scoreMax, log: log, Now: time.Now}
}

// SyncGrade posts the score for the user's most recent launch into the given
// course. Returns true when the platform accepted the score.
func (g *GradeSync) SyncGrade(ctx context.Context, userID, courseID string, score float64) bool {
	launch, ok := g.findLaunch(ctx, userID, courseID)
	if !ok {
		g.log.Debug().Str("user", userID).Str("course", courseID).Msg("no gradeable launch for user")
		metrics.GradeSyncs.WithLabelValues("skipped").Inc()
		return false
	}

	if err := g.postScore(ctx, launch, score); err != nil {
		g.log.Warn().Err(err).Str("user", userID).Str("course", courseID).Msg("grade sync failed")
		metrics.GradeSyncs.WithLabelValues("failed").Inc()
		return false
	}
	metrics.GradeSyncs.WithLabelValues("ok").Inc()
	return true
}

// findLaunch picks the newest launch for the user that carries a line item
// and belongs to the course, by recorded course id or by target URI.
func (g *GradeSync) findLaunch(ctx context.Context, userID, courseID string) (LaunchContext, bool) {
	launches, err := g.launches.ListLaunchesByUser(ctx, userID)
	if err != nil {
		g.log.Warn().Err(err).Str("user", userID).Msg("list launches failed")
		return LaunchContext{}, false
	}
	for _, l := range launches {
		if l.LineItemURL == "" {
			continue
		}
		if l.MatchesCourse(courseID) {
			return l, true
		}
	}
	return LaunchContext{}, false
}

func (g *GradeSync) postScore(ctx context.Context, launch LaunchContext, score float64) error {
	token, err := g.tokens.AccessToken(ctx, launch.PlatformIssuer, ScopeScore)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	payload := Score{
		UserID:           launch.Subject,
		ScoreGiven:       score,
		ScoreMaximum:     g.ScoreMaximum,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
		Timestamp:        g.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}

	scoresURL := strings.TrimRight(launch.LineItemURL, "/") + "/scores"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", scoreContentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post score: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}
	return nil
}
