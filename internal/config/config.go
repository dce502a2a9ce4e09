package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env                  string
	HTTPPort             string
	LedgerPath           string
	UploadDir            string
	DatabaseURL          string
	RedisAddr            string
	JWTIssuer            string
	JWTSigningKey        string
	SessionTTL           time.Duration
	AllowSignup          bool
	RateLimitPerMin      int
	LoginRateLimitPerMin int
	CloudinaryURL        string
	CloudinaryFolder     string
	LogLevel             string
	LogFormat            string
	CORSOrigins          []string
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:                  getEnv("APP_ENV", "dev"),
		HTTPPort:             getEnv("HTTP_PORT", "5000"),
		LedgerPath:           getEnv("LEDGER_PATH", "Boac_ID_Database.xlsx"),
		UploadDir:            getEnv("UPLOAD_DIR", "static/uploads"),
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite://users.db"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		JWTIssuer:            getEnv("JWT_ISSUER", "boacid"),
		JWTSigningKey:        getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		SessionTTL:           durationEnv("SESSION_TTL", 12*time.Hour),
		AllowSignup:          boolEnv("ALLOW_SIGNUP", true),
		RateLimitPerMin:      intEnv("RATE_LIMIT_PER_MIN", 120),
		LoginRateLimitPerMin: intEnv("LOGIN_RATE_LIMIT_PER_MIN", 10),
		CloudinaryURL:        os.Getenv("CLOUDINARY_URL"),
		CloudinaryFolder:     getEnv("CLOUDINARY_FOLDER", "boac-ids"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		CORSOrigins:          listEnv("CORS_ORIGINS", []string{"*"}),
	}
}

// Production reports whether the app runs with production defaults.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Dur("fallback", fallback).Msg("invalid duration, using fallback")
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Warn().Str("key", key).Bool("fallback", fallback).Msg("invalid bool, using fallback")
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Int("fallback", fallback).Msg("invalid int, using fallback")
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
