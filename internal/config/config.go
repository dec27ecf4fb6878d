package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RunMigrations            bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	CatalogCacheTTL          time.Duration
	AuthSecret               string
	AccessTokenTTLMinutes    int
	StoreTimeout             time.Duration
	DraftTTL                 time.Duration
	DefaultSeries            string
	DefaultNatureOfOperation string
	LoginRateLimit           int
	LogLevel                 string
	LogFormat                string
	MetricsNamespace         string
}

// Load reads the environment, after merging an optional .env file. Secrets
// never get defaults; the caller validates them.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Config{
		Port:                     valueOrDefault(k.String("PORT"), "8080"),
		AllowedOrigin:            valueOrDefault(k.String("ALLOWED_ORIGIN"), "http://127.0.0.1:3000"),
		DatabaseURL:              strings.TrimSpace(k.String("DATABASE_URL")),
		RunMigrations:            parseBool(k.String("RUN_MIGRATIONS")),
		RedisAddr:                strings.TrimSpace(k.String("REDIS_ADDR")),
		RedisPassword:            k.String("REDIS_PASSWORD"),
		RedisDB:                  parseInt(k.String("REDIS_DB"), 0, 0),
		CatalogCacheTTL:          time.Duration(parseInt(k.String("CATALOG_CACHE_TTL_SECONDS"), 60, 1)) * time.Second,
		AuthSecret:               strings.TrimSpace(k.String("AUTH_SECRET")),
		AccessTokenTTLMinutes:    parseInt(k.String("ACCESS_TOKEN_TTL_MINUTES"), 480, 1),
		StoreTimeout:             time.Duration(parseInt(k.String("STORE_TIMEOUT_SECONDS"), 10, 1)) * time.Second,
		DraftTTL:                 time.Duration(parseInt(k.String("DRAFT_TTL_MINUTES"), 120, 1)) * time.Minute,
		DefaultSeries:            valueOrDefault(k.String("DEFAULT_SERIES"), "1"),
		DefaultNatureOfOperation: valueOrDefault(k.String("DEFAULT_NATURE_OF_OPERATION"), "Venda de mercadoria"),
		LoginRateLimit:           parseInt(k.String("LOGIN_RATE_LIMIT_PER_MINUTE"), 10, 1),
		LogLevel:                 valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:                valueOrDefault(k.String("LOG_FORMAT"), "json"),
		MetricsNamespace:         valueOrDefault(k.String("METRICS_NAMESPACE"), "notafi"),
	}

	return cfg, nil
}

func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// parseInt falls back when the value is missing, malformed or below floor.
func parseInt(value string, fallback int, floor int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < floor {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
