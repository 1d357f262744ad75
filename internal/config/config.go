package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabaseURL       string
	IssuerDomain      string
	ProviderName      string
	ServiceName       string
	AdminUsername     string
	AdminPassword     string
	AdminEmail        string
	AdminAPISecret    string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	TokenTTL          time.Duration
	CSRFTokenTTL      time.Duration
	AuthCodeTTL       time.Duration
	BcryptCost        int
	StrictTokenChecks bool
	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// IssuerURL renders the issuer exactly as it appears in minted tokens and the
// discovery document, trailing slash included.
func (c Config) IssuerURL() string {
	return fmt.Sprintf("https://%s/", c.IssuerDomain)
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	issuerDomain := strings.TrimSpace(os.Getenv("ISSUER_DOMAIN"))
	if issuerDomain == "" {
		return Config{}, fmt.Errorf("ISSUER_DOMAIN is required")
	}
	adminUsername := strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
	if adminUsername == "" {
		return Config{}, fmt.Errorf("ADMIN_USERNAME is required")
	}
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if adminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required")
	}
	adminAPISecret := strings.TrimSpace(os.Getenv("ADMIN_API_SECRET"))
	if adminAPISecret == "" {
		return Config{}, fmt.Errorf("ADMIN_API_SECRET is required")
	}

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		IssuerDomain:      issuerDomain,
		ProviderName:      getEnv("PROVIDER_NAME", "Lantern"),
		ServiceName:       getEnv("SERVICE_NAME", "lantern-idp"),
		AdminUsername:     adminUsername,
		AdminPassword:     adminPassword,
		AdminEmail:        getEnv("ADMIN_EMAIL", "admin@"+issuerDomain),
		AdminAPISecret:    adminAPISecret,
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		TokenTTL:          getDuration("TOKEN_TTL", 24*time.Hour),
		CSRFTokenTTL:      getDuration("CSRF_TOKEN_TTL", 120*time.Second),
		AuthCodeTTL:       getDuration("AUTH_CODE_TTL", 60*time.Second),
		BcryptCost:        getInt("BCRYPT_COST", 8),
		StrictTokenChecks: getBool("STRICT_TOKEN_CHECKS", false),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
