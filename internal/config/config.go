package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// External services
	ProviderAPIURL       string
	ProviderClientID     string
	ProviderClientSecret string
	CategorizerAPIURL    string

	// HTTP client
	HTTPTimeout time.Duration

	// Sync engine
	SyncInterval       time.Duration // cadence of the scheduled cycle
	SyncTimeout        time.Duration // overall deadline per sync attempt
	SyncLookbackDays   int           // trailing import window
	LockTTL            time.Duration // per-connection lease TTL
	TokenRefreshMargin time.Duration // refresh when expiry is this close
	MaxConcurrentSyncs int

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Auth / token storage
	JWTSecret      string
	TokenCipherKey string // 32-byte key for credential encryption at rest
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ProviderAPIURL:       getEnv("PROVIDER_API_URL", "http://localhost:8091"),
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		CategorizerAPIURL:    getEnv("CATEGORIZER_API_URL", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 6*time.Hour),
		SyncTimeout:        getEnvDuration("SYNC_TIMEOUT", 2*time.Minute),
		SyncLookbackDays:   getEnvInt("SYNC_LOOKBACK_DAYS", 90),
		LockTTL:            getEnvDuration("LOCK_TTL", 5*time.Minute),
		TokenRefreshMargin: getEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second),
		MaxConcurrentSyncs: getEnvInt("MAX_CONCURRENT_SYNCS", 8),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		CacheTTL: getEnvDuration("CACHE_TTL", 30*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret:      getEnv("JWT_SECRET", "ledgerlink-default-dev-secret-change-me"),
		TokenCipherKey: getEnv("TOKEN_CIPHER_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
