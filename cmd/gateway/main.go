package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	api "github.com/eduflex/eduflex-go/internal/api/http"
	"github.com/eduflex/eduflex-go/internal/auth"
	"github.com/eduflex/eduflex-go/internal/config"
	"github.com/eduflex/eduflex-go/internal/db"
	"github.com/eduflex/eduflex-go/internal/lti"
	"github.com/eduflex/eduflex-go/internal/lti/sqlstore"
	"github.com/eduflex/eduflex-go/internal/metrics"
	"github.com/eduflex/eduflex-go/internal/rbac"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	store := sqlstore.New(dbh)

	// --- LTI services ---
	keys, err := lti.NewKeyMaterial()
	if err != nil {
		log.Fatal().Err(err).Msg("generate tool key pair")
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	secureCookies := strings.HasPrefix(cfg.PublicURL, "https://")
	states := lti.NewStateStore()
	redirector := lti.NewLoginRedirector(store, states)
	verifier := lti.NewVerifier(store, httpClient, cfg.KeySetTTL, log)
	authSvc := auth.NewAuthService(cfg.SessionSecret, cfg.SessionTTL)
	provisioner := lti.NewProvisioner(store, store, authSvc, log)
	broker := lti.NewTokenBroker(store, keys, httpClient, log)
	gradeSync := lti.NewGradeSync(store, broker, httpClient, cfg.ScoreMaximum, log)
	lineItems := lti.NewLineItemClient(broker)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// LTI surfaces (unauthenticated: the launch itself is the authentication)
	r.Route("/lti", func(lr chi.Router) {
		lr.Get("/login", lti.LoginHandler(redirector, log))
		lr.Post("/login", lti.LoginHandler(redirector, log))
		lr.Post("/launch", lti.LaunchHandler(verifier, provisioner, states, cfg.SessionTTL, secureCookies, log))
	})
	r.Get("/.well-known/jwks.json", keys.JWKSHandler())

	// Bootstrap login for the administrator who registers platforms.
	if cfg.AdminPassHash == "" {
		log.Warn().Msg("ADMIN_PASS_HASH not set, admin login disabled")
	}
	r.Post("/auth/login", auth.AdminLoginHandler(authSvc, cfg.AdminUser, cfg.AdminPassHash))

	// Protected API (session → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(authSvc, lti.SessionCookieName))

		pr.With(rbac.Require("grade:write")).
			Post("/courses/{courseID}/grades", api.SyncGradeHandler(gradeSync))
		pr.With(rbac.Require("lineitem:view")).
			Get("/courses/{courseID}/lineitems", api.ListLineItemsHandler(store, lineItems))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(store))

		pr.With(rbac.Require("platforms:manage")).
			Post("/admin/platforms", api.UpsertPlatformHandler(store))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})
	r.Handle("/metrics", metrics.Handler())

	log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Msg("listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
