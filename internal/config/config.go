package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	EventsRabbitMQ = "rabbitmq"
	EventsKafka    = "kafka"
	EventsNone     = "none"

	PolicyFallback = "fallback"
	PolicyFail     = "fail"
)

type MySQLConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type Config struct {
	Port     string
	LogLevel string

	StorageDriver string
	MySQL         MySQLConfig
	RedisHost     string

	EventsDriver     string
	RabbitMQURL      string
	RabbitMQExchange string
	KafkaBrokers     []string
	KafkaTopic       string

	ProductServiceURL string
	CodegenServiceURL string
	FrontendURL       string

	GSTRate               decimal.Decimal
	DefaultEstimatedTime  int
	OperationTimeout      time.Duration
	ExternalTimeout       time.Duration
	RedeemMaxAttempts     int
	CouponExhaustedPolicy string

	StaleOrderAfter    time.Duration
	StaleSweepInterval time.Duration

	CheckoutRateLimit float64
	CheckoutRateBurst int
}

// Load reads the configuration from the environment. Unset variables take
// their defaults; malformed ones are reported.
func Load() (Config, error) {
	l := loader{}
	cfg := Config{
		Port:     l.str("PORT", "8080"),
		LogLevel: l.str("LOG_LEVEL", "info"),

		StorageDriver: l.str("STORAGE_DRIVER", StorageMySQL),
		MySQL: MySQLConfig{
			User:     os.Getenv("MYSQL_USER"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			Host:     l.str("MYSQL_HOST", "localhost"),
			Port:     l.str("MYSQL_PORT", "3306"),
			Database: os.Getenv("MYSQL_DATABASE"),
		},
		RedisHost: os.Getenv("REDIS_HOST"),

		EventsDriver:     l.str("EVENTS_DRIVER", EventsRabbitMQ),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: l.str("RABBITMQ_EXCHANGE", "order.exchange"),
		KafkaBrokers:     strings.Split(l.str("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:       l.str("KAFKA_TOPIC", "order-topic"),

		ProductServiceURL: os.Getenv("PRODUCT_SERVICE_URL"),
		CodegenServiceURL: os.Getenv("CODEGEN_SERVICE_URL"),
		FrontendURL:       l.str("FRONTEND_URL", "http://localhost:3000"),

		GSTRate:               l.decimal("GST_RATE", decimal.RequireFromString("0.05")),
		DefaultEstimatedTime:  l.int("DEFAULT_ESTIMATED_TIME", 20),
		OperationTimeout:      l.duration("OPERATION_TIMEOUT", 5*time.Second),
		ExternalTimeout:       l.duration("EXTERNAL_TIMEOUT", 2*time.Second),
		RedeemMaxAttempts:     l.int("REDEEM_MAX_ATTEMPTS", 5),
		CouponExhaustedPolicy: l.str("COUPON_EXHAUSTED_POLICY", PolicyFallback),

		StaleOrderAfter:    l.duration("STALE_ORDER_AFTER", 0),
		StaleSweepInterval: l.duration("STALE_SWEEP_INTERVAL", time.Minute),

		CheckoutRateLimit: l.float("CHECKOUT_RATE_LIMIT", 20),
		CheckoutRateBurst: l.int("CHECKOUT_RATE_BURST", 40),
	}
	if l.err != nil {
		return Config{}, l.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMySQL, StorageMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.EventsDriver {
	case EventsRabbitMQ, EventsKafka, EventsNone:
	default:
		return fmt.Errorf("config: unknown EVENTS_DRIVER %q", c.EventsDriver)
	}
	switch c.CouponExhaustedPolicy {
	case PolicyFallback, PolicyFail:
	default:
		return fmt.Errorf("config: unknown COUPON_EXHAUSTED_POLICY %q", c.CouponExhaustedPolicy)
	}
	if c.GSTRate.IsNegative() {
		return fmt.Errorf("config: GST_RATE must not be negative")
	}
	if c.RedeemMaxAttempts < 1 {
		return fmt.Errorf("config: REDEEM_MAX_ATTEMPTS must be at least 1")
	}
	if c.OperationTimeout <= 0 || c.ExternalTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}

// loader keeps the first parse error so Load can read every variable in one
// expression.
type loader struct {
	err error
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return n
}

func (l *loader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return f
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return d
}

func (l *loader) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		l.fail(key, err)
		return def
	}
	return d
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("config: %s: %w", key, err)
	}
}
