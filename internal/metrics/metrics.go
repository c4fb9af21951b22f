// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LaunchesVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lti_launches_verified_total",
		Help: "Launch tokens that passed verification.",
	})
	LaunchesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lti_launches_rejected_total",
		Help: "Launch tokens rejected during verification.",
	})
	TokenExchanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lti_token_exchanges_total",
		Help: "Access-token requests sent to platform token endpoints.",
	})
	TokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lti_token_cache_hits_total",
		Help: "Access-token requests served from cache.",
	})
	TokenExchangeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lti_token_exchange_failures_total",
		Help: "Access-token requests that failed after retry.",
	})
	GradeSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lti_grade_syncs_total",
		Help: "Grade sync attempts by outcome.",
	}, []string{"result"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
