package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

type Config struct {
	Environment string
	Server      struct {
		Port           string
		AllowedOrigins []string
		RateLimitRPS   int
		RateLimitBurst int
	}
	Storage struct {
		Driver     string
		SQLitePath string
	}
	Database struct {
		URL string
	}
	Redis struct {
		URL string
	}
	JWT struct {
		Secret string
	}
	Moderation struct {
		TickInterval   time.Duration
		NotifyTimeout  time.Duration
		EnforceTimeout time.Duration
		ReversalRetry  time.Duration
		Superusers     []uuid.UUID
		ImmuneUsers    []uuid.UUID
		SystemUserID   uuid.UUID
		MuteRoleName   string
		EventsChannel  string
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{}

	cfg.Environment = getEnv("APP_ENV", "development")

	// Server
	cfg.Server.Port = getEnv("PORT", "8080")
	cfg.Server.AllowedOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"})
	cfg.Server.RateLimitRPS = getEnvInt("RATE_LIMIT_RPS", 50)
	cfg.Server.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 100)

	// Storage
	cfg.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres))
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", "warden.db")
	if cfg.Storage.Driver != StorageDriverPostgres && cfg.Storage.Driver != StorageDriverSQLite {
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}

	// Database
	postgresUser := getEnv("POSTGRES_USER", "zentra")
	postgresPass := getEnv("POSTGRES_PASSWORD", "zentra_secure_password")
	postgresHost := getEnv("POSTGRES_HOST", "localhost")
	postgresPort := getEnv("POSTGRES_PORT", "5432")
	postgresDB := getEnv("POSTGRES_DB", "zentra")
	postgresSSL := getEnv("POSTGRES_SSLMODE", "disable")
	cfg.Database.URL = getEnv("DATABASE_URL", "postgres://"+postgresUser+":"+postgresPass+"@"+postgresHost+":"+postgresPort+"/"+postgresDB+"?sslmode="+postgresSSL)

	// Redis
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	cfg.Redis.URL = getEnv("REDIS_URL", "redis://"+redisHost+":"+redisPort)

	// JWT
	cfg.JWT.Secret = getEnv("JWT_SECRET", "your-super-secret-jwt-key-change-in-production")

	// Moderation
	cfg.Moderation.TickInterval = getEnvDuration("MODERATION_TICK_INTERVAL", 30*time.Second)
	cfg.Moderation.NotifyTimeout = getEnvDuration("MODERATION_NOTIFY_TIMEOUT", 5*time.Second)
	cfg.Moderation.EnforceTimeout = getEnvDuration("MODERATION_ENFORCE_TIMEOUT", 10*time.Second)
	cfg.Moderation.ReversalRetry = getEnvDuration("MODERATION_REVERSAL_RETRY", 5*time.Minute)
	cfg.Moderation.MuteRoleName = getEnv("MODERATION_MUTE_ROLE", "Muted")
	cfg.Moderation.EventsChannel = getEnv("MODERATION_EVENTS_CHANNEL", "moderation:events")

	var err error
	if cfg.Moderation.Superusers, err = getEnvUUIDs("MODERATION_SUPERUSERS"); err != nil {
		return nil, err
	}
	if cfg.Moderation.ImmuneUsers, err = getEnvUUIDs("MODERATION_IMMUNE_USERS"); err != nil {
		return nil, err
	}
	if raw := getEnv("MODERATION_SYSTEM_USER_ID", ""); raw != "" {
		if cfg.Moderation.SystemUserID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("invalid MODERATION_SYSTEM_USER_ID: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) GetPostgresURL() string {
	return c.Database.URL
}

func (c *Config) GetRedisAddr() string {
	return c.Redis.URL
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range splitAndTrim(value, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// getEnvUUIDs parses a comma separated id list. Unlike the other helpers a
// malformed value is an error rather than falling back to the default.
func getEnvUUIDs(key string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, raw := range getEnvSlice(key, nil) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q in %s: %w", raw, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitAndTrim(s, sep string) []string {
	var result []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep[0] {
			part := trim(s[start:i])
			if part != "" {
				result = append(result, part)
			}
			start = i + 1
		}
	}
	if start < len(s) {
		part := trim(s[start:])
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func trim(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
