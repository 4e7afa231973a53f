package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"roadwatch/internal/engine"
	"roadwatch/pkg/realtime"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port           string
	DBPath         string
	JWTSecret      string
	AllowAnonymous bool
	// Retention is how long evicted alerts stay in the store before purging.
	Retention time.Duration
	Engine    engine.Config
}

// Load reads the environment and falls back to defaults for anything unset or unparsable.
func Load() *Config {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "change-me-in-production"
		log.Printf("[config] JWT_SECRET unset, using development secret")
	}

	defaults := engine.DefaultConfig()
	return &Config{
		Port:           port,
		DBPath:         strings.TrimSpace(os.Getenv("DB_PATH")),
		JWTSecret:      jwtSecret,
		AllowAnonymous: envBool("ALLOW_ANONYMOUS", true),
		Retention:      envDuration("RETENTION", 24*time.Hour),
		Engine: engine.Config{
			BaseTTL:        envDuration("ALERT_BASE_TTL", defaults.BaseTTL),
			ConfirmTTL:     envDuration("ALERT_CONFIRM_TTL", defaults.ConfirmTTL),
			SweepInterval:  envDuration("SWEEP_INTERVAL", defaults.SweepInterval),
			ReportLimit:    envInt("REPORT_LIMIT", defaults.ReportLimit),
			ReportWindow:   envDuration("REPORT_WINDOW", defaults.ReportWindow),
			MaxDescription: envInt("MAX_DESCRIPTION", defaults.MaxDescription),
			SendBuffer:     envInt("SEND_BUFFER", realtime.DefaultBuffer),
		},
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, raw, fallback)
		return fallback
	}
	return b
}
