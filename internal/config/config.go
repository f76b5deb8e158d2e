package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port     string
	Env      string // development or production
	LogLevel string

	Database database.Config
	TxRetry  database.RetryPolicy

	// Token signing
	JWTSecret         string
	SignerLinkBaseURL string // links are SignerLinkBaseURL + "/" + token

	// Email delivery
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// SMS gateway
	SMSGatewayURL   string
	SMSGatewayToken string

	// Malware scanner
	ScannerURL     string
	ScannerTimeout time.Duration

	// Object storage
	S3Bucket   string
	S3Endpoint string // optional, for S3-compatible stores
	AWSRegion  string

	// Defaults used when a company has no configuration row
	DownloadLinkTTL  time.Duration
	CompanyConfigTTL time.Duration

	Security *security.SecurityConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	sec := security.DefaultSecurityConfig()
	sec.OtpTTL = getEnvAsDuration("OTP_TTL", sec.OtpTTL)
	sec.OtpMaxAttempts = getEnvAsInt("OTP_MAX_ATTEMPTS", sec.OtpMaxAttempts)
	sec.BcryptCost = getEnvAsInt("BCRYPT_COST", sec.BcryptCost)
	sec.StrictFieldOwnership = getEnvAsBool("STRICT_FIELD_OWNERSHIP", sec.StrictFieldOwnership)
	sec.RateLimitSigner = getEnvAsInt("RATE_LIMIT_SIGNER", sec.RateLimitSigner)
	sec.RateLimitOwner = getEnvAsInt("RATE_LIMIT_OWNER", sec.RateLimitOwner)
	sec.RateLimitLogin = getEnvAsInt("RATE_LIMIT_LOGIN", sec.RateLimitLogin)

	retry := database.DefaultRetryPolicy()
	retry.MaxRetries = uint64(getEnvAsInt("TX_MAX_RETRIES", int(retry.MaxRetries)))

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Database: database.Config{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		TxRetry: retry,

		JWTSecret:         getEnv("JWT_SECRET", ""),
		SignerLinkBaseURL: getEnv("SIGNER_LINK_BASE_URL", "http://localhost:8080/sign"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@signflow.local"),

		SMSGatewayURL:   getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayToken: getEnv("SMS_GATEWAY_TOKEN", ""),

		ScannerURL:     getEnv("SCANNER_URL", ""),
		ScannerTimeout: getEnvAsDuration("SCANNER_TIMEOUT", 30*time.Second),

		S3Bucket:   getEnv("S3_BUCKET", ""),
		S3Endpoint: getEnv("S3_ENDPOINT", ""),
		AWSRegion:  getEnv("AWS_REGION", "us-east-1"),

		DownloadLinkTTL:  getEnvAsDuration("DOWNLOAD_LINK_TTL", 24*time.Hour),
		CompanyConfigTTL: getEnvAsDuration("COMPANY_CONFIG_TTL", 5*time.Minute),

		Security: sec,
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.ScannerURL == "" {
		return nil, fmt.Errorf("SCANNER_URL is required")
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration parses values like "5m" or "24h"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
