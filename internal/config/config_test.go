package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/payment"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "0.0.0.0:3001", cfg.Addr())
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, models.USDC(0), cfg.ListingFee)
	assert.Equal(t, models.Wallet(payment.ZeroAddress), cfg.TreasuryWallet)
	assert.EqualValues(t, payment.BaseChainID, cfg.ChainID)
	assert.Equal(t, 10, cfg.NotifyWorkers)
	assert.NotEmpty(t, cfg.X402Secret)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                  "9000",
		"STORE_BACKEND":         "MEMORY",
		"LOG_LEVEL":             "debug",
		"CORS_ALLOWED_ORIGINS":  "https://a.example, https://b.example,",
		"X402_SECRET":           "s3cret",
		"X402_LISTING_FEE_USDC": "0.05",
		"TREASURY_WALLET":       "0xABCDEF",
		"PAYMENT_CHAIN_ID":      "84532",
		"NOTIFY_WORKERS":        "3",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, []byte("s3cret"), cfg.X402Secret)
	assert.Equal(t, models.USDC(50_000), cfg.ListingFee)
	assert.Equal(t, models.Wallet("0xabcdef"), cfg.TreasuryWallet)
	assert.EqualValues(t, 84532, cfg.ChainID)
	assert.Equal(t, 3, cfg.NotifyWorkers)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"backend":      {"STORE_BACKEND": "sqlite"},
		"log level":    {"LOG_LEVEL": "chatty"},
		"fee":          {"X402_LISTING_FEE_USDC": "abc"},
		"negative fee": {"X402_LISTING_FEE_USDC": "-1"},
		"fee sans key": {"X402_LISTING_FEE_USDC": "1"},
		"chain":        {"PAYMENT_CHAIN_ID": "base"},
		"workers":      {"NOTIFY_WORKERS": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}
