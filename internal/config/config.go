package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Gateway    GatewayConfig
	Payments   PaymentsConfig
	Audit      AuditConfig
	RateLimit  RateLimitConfig
	Operations OperationsConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
	AutoMigrate     bool
}

// LoggerConfig holds logger-related configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AuthConfig holds the back-office API key.
type AuthConfig struct {
	APIKey string
}

// GatewayConfig holds payment gateway settings.
type GatewayConfig struct {
	AccessToken   string
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
	AppBaseURL    string // public storefront URL used for back URLs and notifications
	Currency      string
}

// PaymentsConfig holds counter-sale payment settings.
type PaymentsConfig struct {
	// BalanceTolerance is how far a payment may exceed the remaining balance
	// before it is rejected as an overpayment.
	BalanceTolerance decimal.Decimal
}

// AuditConfig holds settings for the payment callback archive.
type AuditConfig struct {
	S3Enabled bool
	Bucket    string
	Region    string
	Prefix    string
	LocalDir  string
}

// RateLimitConfig holds limits for the public checkout and webhook endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// OperationsConfig holds thresholds used by back-office reports.
type OperationsConfig struct {
	StalePendingAfter time.Duration
}

// Load loads configuration from environment variables, reading a .env file first
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tolerance, err := decimal.NewFromString(getEnv("PAYMENT_BALANCE_TOLERANCE", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_BALANCE_TOLERANCE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "bikeshop"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
			MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Gateway: GatewayConfig{
			AccessToken:   getEnv("GATEWAY_ACCESS_TOKEN", ""),
			BaseURL:       strings.TrimRight(getEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"), "/"),
			WebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			Timeout:       time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
			AppBaseURL:    strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
			Currency:      getEnv("STORE_CURRENCY", "ARS"),
		},
		Payments: PaymentsConfig{
			BalanceTolerance: tolerance,
		},
		Audit: AuditConfig{
			S3Enabled: getEnvAsBool("AUDIT_S3_ENABLED", false),
			Bucket:    getEnv("AUDIT_S3_BUCKET", ""),
			Region:    getEnv("AUDIT_S3_REGION", "us-east-1"),
			Prefix:    getEnv("AUDIT_S3_PREFIX", "payment-callbacks/"),
			LocalDir:  getEnv("AUDIT_LOCAL_DIR", "data/callbacks"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Operations: OperationsConfig{
			StalePendingAfter: time.Duration(getEnvAsInt("STALE_PENDING_HOURS", 48)) * time.Hour,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Database.MinConnections < 1 {
		return fmt.Errorf("database min connections must be at least 1")
	}

	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logger.Format)
	}

	if c.Gateway.AccessToken == "" {
		return fmt.Errorf("gateway access token is required")
	}

	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}

	if c.Payments.BalanceTolerance.IsNegative() {
		return fmt.Errorf("payment balance tolerance cannot be negative")
	}

	if c.Audit.S3Enabled {
		if c.Audit.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when audit S3 archive is enabled")
		}
		if c.Audit.Region == "" {
			return fmt.Errorf("S3 region is required when audit S3 archive is enabled")
		}
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit must allow at least one request")
	}

	if c.Operations.StalePendingAfter <= 0 {
		return fmt.Errorf("stale pending threshold must be positive")
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
