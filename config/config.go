package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Gateway   GatewayConfig
	Messaging MessagingConfig
	Badge     BadgeConfig
	Worker    WorkerConfig
	Bootstrap BootstrapConfig
}

// GatewayConfig holds payment gateway endpoints and the platform-level fallback credentials.
// Organization-stored credentials always take precedence over these.
type GatewayConfig struct {
	DefaultProvider  string // "toss" or "nice"
	DefaultSecretKey string
	DefaultClientKey string // nice only
	TossBaseURL      string
	NiceBaseURL      string
	TimeoutSec       int
}

// Timeout returns the HTTP client timeout for gateway calls.
func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(g.TimeoutSec) * time.Second
}

// MessagingConfig for the SMS / chat message API used by the notification worker.
type MessagingConfig struct {
	BaseURL    string
	APIKey     string
	SenderKey  string
	TimeoutSec int
}

// BadgeConfig holds badge-preparation page settings.
type BadgeConfig struct {
	DefaultBaseURL  string // used when the conference has no badge_base_url
	FallbackTTLDays int    // token lifetime when the conference end date is unknown
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	ChangeFeedPollMs      int
	ChangeFeedBatchSize   int
	ChangeFeedMaxAttempts int // failed changes are parked after this many tries
}

// PollInterval returns the change feed poll interval.
func (w WorkerConfig) PollInterval() time.Duration {
	if w.ChangeFeedPollMs <= 0 {
		return time.Second
	}
	return time.Duration(w.ChangeFeedPollMs) * time.Millisecond
}

// BootstrapConfig seeds the first operator account on an empty admins table.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated static fallback; "*" for all
	OriginCacheTTLSec  int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/conference?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings for the admin API.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the receipts bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReceiptsBucket       string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			OriginCacheTTLSec:  getEnvInt("ORIGIN_CACHE_TTL_SEC", 300),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "conference"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "ap-northeast-2"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReceiptsBucket:       getEnv("AWS_S3_RECEIPTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Gateway: GatewayConfig{
			DefaultProvider:  getEnv("GATEWAY_DEFAULT_PROVIDER", "toss"),
			DefaultSecretKey: getEnv("GATEWAY_DEFAULT_SECRET_KEY", ""),
			DefaultClientKey: getEnv("GATEWAY_DEFAULT_CLIENT_KEY", ""),
			TossBaseURL:      getEnv("TOSS_BASE_URL", "https://api.tosspayments.com"),
			NiceBaseURL:      getEnv("NICE_BASE_URL", "https://api.nicepay.co.kr"),
			TimeoutSec:       getEnvInt("GATEWAY_TIMEOUT_SEC", 15),
		},
		Messaging: MessagingConfig{
			BaseURL:    getEnv("MESSAGING_BASE_URL", ""),
			APIKey:     getEnv("MESSAGING_API_KEY", ""),
			SenderKey:  getEnv("MESSAGING_SENDER_KEY", ""),
			TimeoutSec: getEnvInt("MESSAGING_TIMEOUT_SEC", 10),
		},
		Badge: BadgeConfig{
			DefaultBaseURL:  getEnv("BADGE_BASE_URL", "http://localhost:3000/badge-prep"),
			FallbackTTLDays: getEnvInt("BADGE_FALLBACK_TTL_DAYS", 7),
		},
		Worker: WorkerConfig{
			ChangeFeedPollMs:      getEnvInt("CHANGE_FEED_POLL_MS", 1000),
			ChangeFeedBatchSize:   getEnvInt("CHANGE_FEED_BATCH_SIZE", 100),
			ChangeFeedMaxAttempts: getEnvInt("CHANGE_FEED_MAX_ATTEMPTS", 10),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}
	if cfg.Gateway.DefaultProvider != "toss" && cfg.Gateway.DefaultProvider != "nice" {
		return nil, fmt.Errorf("GATEWAY_DEFAULT_PROVIDER must be toss or nice, got %q", cfg.Gateway.DefaultProvider)
	}
	return cfg, nil
}

// SplitOrigins splits a comma-separated origin list, dropping blanks.
func SplitOrigins(s string) []string {
	return splitTrim(s, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
