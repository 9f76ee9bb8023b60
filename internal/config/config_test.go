package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "STORAGE_DRIVER", "EVENTS_DRIVER", "KAFKA_BROKERS", "GST_RATE",
		"DEFAULT_ESTIMATED_TIME", "OPERATION_TIMEOUT", "EXTERNAL_TIMEOUT",
		"REDEEM_MAX_ATTEMPTS", "COUPON_EXHAUSTED_POLICY", "STALE_ORDER_AFTER",
		"MYSQL_HOST", "MYSQL_PORT", "CHECKOUT_RATE_LIMIT", "CHECKOUT_RATE_BURST",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorageMySQL, cfg.StorageDriver)
	assert.Equal(t, EventsRabbitMQ, cfg.EventsDriver)
	assert.True(t, cfg.GSTRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 20, cfg.DefaultEstimatedTime)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.Equal(t, PolicyFallback, cfg.CouponExhaustedPolicy)
	assert.Zero(t, cfg.StaleOrderAfter)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GST_RATE", "0.18")
	t.Setenv("OPERATION_TIMEOUT", "750ms")
	t.Setenv("COUPON_EXHAUSTED_POLICY", "fail")
	t.Setenv("MYSQL_USER", "app")
	t.Setenv("MYSQL_PASSWORD", "secret")
	t.Setenv("MYSQL_DATABASE", "orders")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.GSTRate.Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, 750*time.Millisecond, cfg.OperationTimeout)
	assert.Equal(t, PolicyFail, cfg.CouponExhaustedPolicy)
	assert.Equal(t, "app:secret@tcp(localhost:3306)/orders?charset=utf8mb4&parseTime=True&loc=UTC", cfg.MySQL.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad duration", key: "EXTERNAL_TIMEOUT", value: "soon"},
		{name: "bad int", key: "REDEEM_MAX_ATTEMPTS", value: "many"},
		{name: "zero attempts", key: "REDEEM_MAX_ATTEMPTS", value: "0"},
		{name: "bad decimal", key: "GST_RATE", value: "five percent"},
		{name: "negative gst", key: "GST_RATE", value: "-0.05"},
		{name: "unknown storage", key: "STORAGE_DRIVER", value: "mongo"},
		{name: "unknown events", key: "EVENTS_DRIVER", value: "sqs"},
		{name: "unknown policy", key: "COUPON_EXHAUSTED_POLICY", value: "maybe"},
		{name: "bad rate", key: "CHECKOUT_RATE_LIMIT", value: "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
