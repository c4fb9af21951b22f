package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	LogLevel string

	// Session tokens handed to the browser after a verified launch.
	SessionSecret string
	SessionTTL    time.Duration

	// Outbound platform calls (key set fetch, token exchange, score post).
	HTTPTimeout time.Duration
	KeySetTTL   time.Duration

	// Denominator reported with every AGS score.
	ScoreMaximum float64

	// Bootstrap administrator for platform registration. Admin login stays
	// disabled until a bcrypt hash is configured.
	AdminUser     string
	AdminPassHash string

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	return Config{
		HTTPAddr:      addr,
		PublicURL:     pub,
		DBDriver:      envOr("DB_DRIVER", "sqlite"),
		DBDSN:         envOr("DB_DSN", ""),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		SessionSecret: envOr("SESSION_SECRET", "dev-secret-change-me"),
		SessionTTL:    envDuration("SESSION_TTL", 8*time.Hour),
		HTTPTimeout:   envDuration("HTTP_TIMEOUT", 15*time.Second),
		KeySetTTL:     envDuration("KEYSET_TTL", 10*time.Minute),
		ScoreMaximum:  envFloat("SCORE_MAXIMUM", 1.0),
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: os.Getenv("ADMIN_PASS_HASH"),
		CORSOrigins:   csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
