package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/deferrals/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DEFERRAL_CRON", "0 3 1 * *")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, int32(10), cfg.PGMaxConns)
	require.Equal(t, 10*time.Minute, cfg.DeferralReportCacheTTL)
	require.Equal(t, 30, cfg.DeferralRateLimit)
	require.Equal(t, "0 3 1 * *", cfg.DeferralCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigNormalisesCurrency(t *testing.T) {
	t.Setenv("DEFERRAL_DEFAULT_CURRENCY", " usd ")
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.DeferralDefaultCurrency)
	require.True(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{DeferralDefaultCurrency: "rupiah", DeferralRateLimit: 1},
		{DeferralDefaultCurrency: "IDR", DeferralRateLimit: 0},
		{DeferralDefaultCurrency: "IDR", DeferralRateLimit: 1, DeferralReportCacheTTL: -time.Second},
	}
	for _, cfg := range cases {
		require.Error(t, cfg.Validate())
	}
}
