package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTimeout)
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 5, cfg.ReserveMaxAttempts)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.False(t, cfg.EmbeddedSweeper)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("RESERVATION_TIMEOUT", "20m")
	t.Setenv("SWEEP_SCHEDULE", "*/2 * * * *")
	t.Setenv("CURRENCY", "EUR")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 20*time.Minute, cfg.ReservationTimeout)
	assert.Equal(t, "eur", cfg.Currency)
}

func TestLoad_MemoryStoreEmbedsSweeper(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("EMBEDDED_SWEEPER", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.EmbeddedSweeper)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"bad duration": {"PAYMENT_TIMEOUT", "soon"},
		"zero timeout": {"RESERVATION_TIMEOUT", "0s"},
		"bad attempts": {"RESERVE_MAX_ATTEMPTS", "0"},
		"bad int":      {"RESERVE_MAX_ATTEMPTS", "five"},
		"bad schedule": {"SWEEP_SCHEDULE", "every now and then"},
		"bad driver":   {"STORE_DRIVER", "sqlite"},
		"bad bool":     {"EMBEDDED_SWEEPER", "perhaps"},
		"seed on pg":   {"SEED_FILE", "seed.json"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRequireStripe(t *testing.T) {
	assert.Error(t, Config{StripeSecretKey: "sk_test"}.RequireStripe())
	assert.NoError(t, Config{StripeSecretKey: "sk_test", StripeWebhookSecret: "whsec"}.RequireStripe())
}

func TestLoad_SeedFileWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("SEED_FILE", "deploy/seed.example.json")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "deploy/seed.example.json", cfg.SeedFile)
}
