// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Fraud    FraudConfig
	Breaker  BreakerConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addrs    []string
	Password string
	Cluster  bool
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	// CallbackSecret verifies inbound deposit confirmations.
	CallbackSecret string
	Timeout        time.Duration
}

type WebhookConfig struct {
	// URLs maps event categories to consumer endpoints, loaded from
	// WEBHOOK_URLS_INTERNAL / _GATEWAY / _GENERAL (comma-separated).
	URLs map[domain.EventCategory][]string
	// SigningSecret signs outbound payloads.
	SigningSecret string
	MaxAttempts   int
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration
	DrainWorkers  int
	DrainInterval time.Duration
}

type FraudConfig struct {
	MaxAmount   decimal.Decimal
	VelocityCap int64
	DailyCap    decimal.Decimal
	Lookback    int
}

type BreakerConfig struct {
	FailureRate float64
	MinRequests int
	Window      time.Duration
	OpenTimeout time.Duration
}

func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8027"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ledger"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addrs:    splitList(getEnv("REDIS_ADDRS", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			Cluster:  getEnvBool("REDIS_CLUSTER", false),
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", ""),
			APIKey:         getEnv("GATEWAY_API_KEY", ""),
			CallbackSecret: getEnv("GATEWAY_CALLBACK_SECRET", ""),
			Timeout:        getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			URLs: map[domain.EventCategory][]string{
				domain.EventCategoryInternal: splitList(getEnv("WEBHOOK_URLS_INTERNAL", "")),
				domain.EventCategoryGateway:  splitList(getEnv("WEBHOOK_URLS_GATEWAY", "")),
				domain.EventCategoryGeneral:  splitList(getEnv("WEBHOOK_URLS_GENERAL", "")),
			},
			SigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),
			MaxAttempts:   getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5),
			RetryMinDelay: getEnvDuration("WEBHOOK_RETRY_MIN_DELAY", time.Second),
			RetryMaxDelay: getEnvDuration("WEBHOOK_RETRY_MAX_DELAY", 30*time.Second),
			DrainWorkers:  getEnvInt("WEBHOOK_DRAIN_WORKERS", 4),
			DrainInterval: getEnvDuration("WEBHOOK_DRAIN_INTERVAL", 5*time.Second),
		},
		Fraud: FraudConfig{
			MaxAmount:   getEnvDecimal("FRAUD_MAX_AMOUNT", "100000"),
			VelocityCap: int64(getEnvInt("FRAUD_VELOCITY_CAP", 10)),
			DailyCap:    getEnvDecimal("FRAUD_DAILY_CAP", "500000"),
			Lookback:    getEnvInt("FRAUD_LOOKBACK", 100),
		},
		Breaker: BreakerConfig{
			FailureRate: getEnvFloat("BREAKER_FAILURE_RATE", 0.5),
			MinRequests: getEnvInt("BREAKER_MIN_REQUESTS", 10),
			Window:      getEnvDuration("BREAKER_WINDOW", 60*time.Second),
			OpenTimeout: getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	if cfg.Gateway.BaseURL == "" {
		logger.Warn("GATEWAY_BASE_URL is empty, gateway calls will fail")
	}
	if cfg.Webhook.SigningSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SIGNING_SECRET is required")
	}

	for category, urls := range cfg.Webhook.URLs {
		logger.Info("webhook consumers loaded",
			zap.String("category", string(category)),
			zap.Int("count", len(urls)))
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	raw := getEnv(key, defaultValue)
	if d, err := decimal.NewFromString(raw); err == nil {
		return d
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
