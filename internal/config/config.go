package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Storage
	StoreDriver   string // course store: "postgres" | "mongo"
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Zoom
	ZoomClientID      string
	ZoomClientSecret  string
	ZoomAccountID     string
	ZoomOAuthURL      string
	ZoomAPIURL        string
	ZoomDefaultOwner  string
	ZoomTimezone      string
	ZoomSafetyMargin  time.Duration
	ZoomTimeout       time.Duration
	ZoomMaxRetries    int
	CleanupWorkers    int
	CleanupMaxAttempt int

	// Meeting creation budget per caller per minute
	MeetingCreateRate int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		Env:               getEnvOrDefault("ENV", "development"),
		StoreDriver:       getEnvOrDefault("STORE_DRIVER", "postgres"),
		DatabaseURL:       mustGetEnv("DATABASE_URL"),
		MongoDatabase:     getEnvOrDefault("MONGODB_DATABASE", "liveclass"),
		RedisURL:          mustGetEnv("REDIS_URL"),
		JWTSecret:         mustGetEnv("JWT_SECRET"),
		ZoomClientID:      mustGetEnv("ZOOM_CLIENT_ID"),
		ZoomClientSecret:  mustGetEnv("ZOOM_CLIENT_SECRET"),
		ZoomAccountID:     mustGetEnv("ZOOM_ACCOUNT_ID"),
		ZoomOAuthURL:      getEnvOrDefault("ZOOM_OAUTH_URL", "https://zoom.us/oauth/token"),
		ZoomAPIURL:        getEnvOrDefault("ZOOM_API_URL", "https://api.zoom.us/v2"),
		ZoomDefaultOwner:  getEnvOrDefault("ZOOM_DEFAULT_OWNER", "me"),
		ZoomTimezone:      getEnvOrDefault("ZOOM_TIMEZONE", "UTC"),
		ZoomSafetyMargin:  getEnvAsDurationOrDefault("ZOOM_TOKEN_SAFETY_MARGIN", 60*time.Second),
		ZoomTimeout:       getEnvAsDurationOrDefault("ZOOM_REQUEST_TIMEOUT", 15*time.Second),
		ZoomMaxRetries:    getEnvAsIntOrDefault("ZOOM_MAX_RETRIES", 2),
		CleanupWorkers:    getEnvAsIntOrDefault("CLEANUP_WORKERS", 2),
		CleanupMaxAttempt: getEnvAsIntOrDefault("CLEANUP_MAX_ATTEMPTS", 5),
		MeetingCreateRate: getEnvAsIntOrDefault("MEETING_CREATE_RATE", 20),
		FrontendURL:       getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	// Groups and notifications always live in postgres; the driver picks
	// where courses and their embedded sessions are kept.
	switch cfg.StoreDriver {
	case "postgres":
	case "mongo":
		cfg.MongoURI = mustGetEnv("MONGODB_URI")
	default:
		panic(fmt.Sprintf("unsupported STORE_DRIVER %q (want postgres or mongo)", cfg.StoreDriver))
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s") or a bare
// number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
