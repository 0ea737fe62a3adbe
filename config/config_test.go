package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SOURCING_TIMEOUT_SECONDS", "")
	t.Setenv("PAYSTACK_SECRET_KEY", "")
	t.Setenv("PAYSTACK_WEBHOOK_SECRET", "")

	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.Sourcing.Timeout)
	assert.Equal(t, "import-events", cfg.Kafka.TopicEvents)
	assert.Equal(t, "", cfg.Payment.WebhookSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SOURCING_TIMEOUT_SECONDS", "5")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYSTACK_SECRET_KEY", "sk_test_123")
	t.Setenv("PAYSTACK_WEBHOOK_SECRET", "")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Sourcing.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// webhook secret falls back to the API secret key
	assert.Equal(t, "sk_test_123", cfg.Payment.WebhookSecret)
}

func TestGetSecondsIgnoresGarbage(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "soon")

	assert.Equal(t, 15*time.Second, getSeconds("PAYMENT_TIMEOUT_SECONDS", 15))
}
