package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"REFUND_ISSUER":              "",
		"REFUND_ISSUER_MAX_ATTEMPTS": "",
		"NOTICE_TTL":                 "",
		"PORT":                       "",
		"CURRENCY_CODE":              "",
		"CIRCUIT_FAIL_RATIO":         "",
	})
	require.NoError(t, err)
	require.Equal(t, IssuerMock, cfg.RefundIssuer)
	require.Equal(t, 1, cfg.RefundIssuerAttempts)
	require.Equal(t, 4*time.Second, cfg.NoticeTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "USD", cfg.CurrencyCode)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"REFUND_ISSUER":        "HTTP",
		"REFUND_ISSUER_URL":    "https://refunds.internal/v1/refunds",
		"CURRENCY_CODE":        "eur",
		"CURRENCY_LOCALE":      "de-DE",
		"CORS_ALLOWED_ORIGINS": "https://ops.example.com, https://admin.example.com",
		"NOTICE_TTL":           "bogus",
		"PORT":                 ":9090",
	})
	require.NoError(t, err)
	require.Equal(t, IssuerHTTP, cfg.RefundIssuer)
	require.Equal(t, "EUR", cfg.CurrencyCode)
	require.Equal(t, []string{"https://ops.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 4*time.Second, cfg.NoticeTTL, "invalid durations fall back to the default")
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRejectsHTTPIssuerWithoutURL(t *testing.T) {
	_, err := LoadForTests(map[string]string{"REFUND_ISSUER": "http", "REFUND_ISSUER_URL": ""})
	require.ErrorContains(t, err, "REFUND_ISSUER_URL")

	_, err = LoadForTests(map[string]string{"REFUND_ISSUER": "carrier-pigeon"})
	require.Error(t, err)

	_, err = LoadForTests(map[string]string{"REFUND_ISSUER": "mock", "REFUND_ISSUER_MAX_ATTEMPTS": "0"})
	require.Error(t, err)
}

func TestLoadWebhookSettings(t *testing.T) {
	_, err := LoadForTests(map[string]string{"WEBHOOK_URL": "https://hooks.example.com/refunds", "WEBHOOK_SECRET": ""})
	require.ErrorContains(t, err, "WEBHOOK_SECRET")

	cfg, err := LoadForTests(map[string]string{
		"WEBHOOK_URL":    "https://hooks.example.com/refunds",
		"WEBHOOK_SECRET": "whsec",
		"WEBHOOK_TOPICS": "refund.issued, refund.failed",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"refund.issued", "refund.failed"}, cfg.WebhookTopics)
	require.Equal(t, 6, cfg.WebhookMaxAttempts)
}
