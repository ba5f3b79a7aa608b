package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string
	CORSOrigin  string
	LogLevel    string
	// Redis fan-out between instances; empty disables it.
	RedisURL         string
	RedisChannel     string
	CoalesceQuiet    time.Duration
	SubscriberBuffer int
}

// Load reads a .env file if present and then the process environment.
func Load() Config {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	return Config{
		Addr:             getenv("API_ADDR", ":8080"),
		DatabaseURL:      databaseURL(),
		JWTSecret:        getenv("JWT_SECRET", os.Getenv("SUPABASE_JWT_SECRET")),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		RedisURL:         getenv("REDIS_URL", ""),
		RedisChannel:     getenv("REDIS_CHANNEL", "colladoc:commits"),
		CoalesceQuiet:    time.Duration(getenvInt("COALESCE_QUIET_MS", 1500)) * time.Millisecond,
		SubscriberBuffer: getenvInt("SUBSCRIBER_BUFFER", 256),
	}
}

// databaseURL prefers DATABASE_URL and otherwise assembles the DSN from the
// individual user/password/host/port/dbname variables.
func databaseURL() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	dbUser := strings.TrimSpace(os.Getenv("user"))
	dbPass := strings.TrimSpace(os.Getenv("password"))
	dbHost := strings.TrimSpace(getenv("host", "localhost"))
	dbPort := strings.TrimSpace(getenv("port", "5432"))
	dbName := strings.TrimSpace(os.Getenv("dbname"))
	sslMode := getenv("DB_SSLMODE", "require")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, sslMode)
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
