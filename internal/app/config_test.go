package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revenue/internal/observability"
	"github.com/odyssey-erp/revenue/internal/revenue"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "finance_analytics_view", cfg.RevenueView)
	require.Equal(t, "finance_invoices", cfg.RevenueTable)
	require.Equal(t, 1000, cfg.RevenuePageSize)
	require.Equal(t, 30*time.Second, cfg.RevenueCacheTTL)
	require.Empty(t, cfg.AMQPURL)

	fc := cfg.FetcherConfig()
	require.Equal(t, revenue.BasisPaid, fc.Basis)
	require.Equal(t, 3, fc.Attempts)
	require.Equal(t, 4, fc.Workers)
	require.Equal(t, 10*time.Second, fc.PageTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("REVENUE_WINDOW_BASIS", "issued")
	t.Setenv("REVENUE_PAGE_SIZE", "250")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, revenue.BasisIssued, cfg.FetcherConfig().Basis)
	require.Equal(t, 250, cfg.FetcherConfig().PageSize)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("REVENUE_WINDOW_BASIS", "booked")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("REVENUE_WINDOW_BASIS", "paid")
	t.Setenv("REVENUE_PAGE_SIZE", "0")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", "window", "2024-01")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"window":"2024-01"`)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  newLogger(&bytes.Buffer{}, nil),
		Config:  &Config{AppEnv: "development"},
		Metrics: observability.NewMetrics(),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "odyssey_http_requests_total"))
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
