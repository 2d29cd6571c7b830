package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"newsletter-backend/utils"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	BaseURL         string
	Environment     string
	LogLevel        string
	AllowedOrigins  string
	BodyLimitBytes  int
	RateLimitMax    int
	RateLimitWindow time.Duration

	JWTSecret     string
	AdminEmail    string
	AdminPassword string

	Database    DatabaseConfig
	Idempotency IdempotencyConfig
	Delivery    DeliveryConfig
	AMQP        AMQPConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the keyword/value connection string understood by the postgres driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type IdempotencyConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type DeliveryConfig struct {
	MaxRetries     int
	EmptyQueueWait time.Duration
	ErrorWait      time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	// Fiber default BodyLimit is 4 * 1024 * 1024 bytes if unset.
	bodyLimit := utils.EnvInt("BODY_LIMIT_BYTES", 0)
	if bodyLimit <= 0 {
		bodyLimit = utils.EnvInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// Prefer JWT_SECRET_KEY, fallback to JWT_SECRET
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}

	port := utils.EnvString("PORT", "8080")

	cfg := Config{
		Port:            port,
		BaseURL:         strings.TrimRight(utils.EnvString("BASE_URL", "http://localhost:"+port), "/"),
		Environment:     utils.EnvString("APP_ENV", "production"),
		LogLevel:        utils.EnvString("LOG_LEVEL", "info"),
		AllowedOrigins:  utils.EnvString("ALLOWED_ORIGINS", "*"),
		BodyLimitBytes:  bodyLimit,
		RateLimitMax:    utils.EnvInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: seconds("RATE_LIMIT_WINDOW_SECONDS", 60),

		JWTSecret:     secret,
		AdminEmail:    utils.EnvString("ADMIN_EMAIL", ""),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		Database: DatabaseConfig{
			Host:     utils.EnvString("DB_HOST", "localhost"),
			Port:     utils.EnvInt("DB_PORT", 5432),
			User:     utils.EnvString("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     utils.EnvString("DB_NAME", "newsletter"),
			SSLMode:  utils.EnvString("DB_SSLMODE", "disable"),
		},
		Idempotency: IdempotencyConfig{
			TTL:           seconds("IDEMPOTENCY_TTL_SECONDS", 86400),
			SweepInterval: seconds("IDEMPOTENCY_SWEEP_INTERVAL_SECONDS", 10),
		},
		Delivery: DeliveryConfig{
			MaxRetries:     utils.EnvInt("DELIVERY_MAX_RETRIES", 5),
			EmptyQueueWait: seconds("DELIVERY_EMPTY_QUEUE_WAIT_SECONDS", 10),
			ErrorWait:      seconds("DELIVERY_ERROR_WAIT_SECONDS", 1),
			BackoffBase:    seconds("DELIVERY_BACKOFF_BASE_SECONDS", 1),
			BackoffMax:     seconds("DELIVERY_BACKOFF_MAX_SECONDS", 3600),
		},
		AMQP: AMQPConfig{
			URL:        utils.EnvString("AMQP_URL", ""),
			Exchange:   utils.EnvString("AMQP_EXCHANGE", "newsletter.email"),
			RoutingKey: utils.EnvString("AMQP_ROUTING_KEY", "email.send"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT secret not configured (set JWT_SECRET_KEY or JWT_SECRET)")
	}
	if c.Idempotency.TTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL_SECONDS must be positive")
	}
	if c.Idempotency.SweepInterval <= 0 {
		return errors.New("IDEMPOTENCY_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.Delivery.MaxRetries < 1 {
		return errors.New("DELIVERY_MAX_RETRIES must be at least 1")
	}
	return nil
}

func seconds(key string, def int) time.Duration {
	return time.Duration(utils.EnvInt(key, def)) * time.Second
}
