package revenuehttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/internal/revenue/revenuetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(t *testing.T, svc MetricsService) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(quietLogger(), svc).WithRequestTimeout(2 * time.Second).MountRoutes(r)
	return r
}

func newService(source revenue.RowSource) *revenue.Service {
	cfg := revenue.FetcherConfig{PageSize: 2, PageTimeout: time.Second, Attempts: 2, Workers: 2, Basis: revenue.BasisPaid}
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	return revenue.NewService(revenue.NewFetcher(source, cfg, quietLogger(), nil), cache, quietLogger(), nil).
		WithNow(func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) })
}

func ledger() *revenuetest.Source {
	return revenuetest.NewSource("finance_analytics_view",
		revenuetest.Row("a1", "Acme", "paid", "2024-01-03", "2024-01-20", "100"),
		revenuetest.Row("a2", "Acme", "paid", "2024-01-05", "2024-02-02", "50"),
		revenuetest.Row("b1", "Globex", "paid", "2024-02-01", "2024-02-10", "25.5"),
		revenuetest.Row("c1", "Initech", "pending", "2024-06-01", "", "80"),
	)
}

func TestGetRevenueReturnsSnapshot(t *testing.T) {
	router := newRouter(t, newService(ledger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue?window=2024-02&window=2024-01", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "true", rr.Header().Get("X-Revenue-Complete"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "2024-01,2024-02", body["window"])
	require.Equal(t, "175.5", body["cashRevenue"])
	require.EqualValues(t, 3, body["totalInvoices"])
	require.Len(t, body["agingBuckets"], 4)
}

func TestGetRevenueAcceptsCommaSeparatedWindows(t *testing.T) {
	router := newRouter(t, newService(ledger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue?window=2024-01,2024-02", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"window":"2024-01,2024-02"`)
}

func TestGetRevenueAllTime(t *testing.T) {
	router := newRouter(t, newService(ledger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"window":"all"`)
	require.Contains(t, rr.Body.String(), `"totalInvoices":4`)
}

func TestGetRevenueRejectsInvalidWindow(t *testing.T) {
	router := newRouter(t, newService(ledger()))

	for _, raw := range []string{"2024-13", "24-01", "january"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue?window="+raw, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, raw)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestGetRevenuePartialFetchIsUnavailable(t *testing.T) {
	source := ledger()
	source.OnPage(func(context.Context, int, revenue.Filter, revenue.Cursor) error {
		return errors.New("connection reset")
	})
	router := newRouter(t, newService(source))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue?window=2024-01", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestExportCSV(t *testing.T) {
	router := newRouter(t, newService(ledger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue/export.csv?window=2024-01", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="revenue-2024-01-2024-06-30.csv"`, rr.Header().Get("Content-Disposition"))

	summary := strings.SplitN(rr.Body.String(), "\n\n", 2)[0]
	records, err := csv.NewReader(strings.NewReader(summary)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"Window", "2024-01"}, records[1])
	require.Equal(t, []string{"Cash Revenue", "100.00"}, records[3])
}

type stubService struct {
	reasons       []string
	fresh         int
	cached        int
	invalidateErr error
}

func (s *stubService) GetMetrics(context.Context, []revenue.DateWindow) (revenue.MetricsSnapshot, error) {
	s.cached++
	return revenue.MetricsSnapshot{Window: "all", IsComplete: true}, nil
}

func (s *stubService) Compute(context.Context, []revenue.DateWindow) (revenue.MetricsSnapshot, error) {
	s.fresh++
	return revenue.MetricsSnapshot{Window: "all", IsComplete: true}, nil
}

func (s *stubService) Invalidate(_ context.Context, reason string) error {
	s.reasons = append(s.reasons, reason)
	return s.invalidateErr
}

func TestFreshBypassesCache(t *testing.T) {
	svc := &stubService{}
	router := newRouter(t, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/revenue?fresh=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, svc.fresh)
	require.Zero(t, svc.cached)
}

func TestInvalidate(t *testing.T) {
	svc := &stubService{}
	router := newRouter(t, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finance/revenue/invalidate", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finance/revenue/invalidate?reason=batch_import", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finance/revenue/invalidate?reason=whatever", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.Equal(t, []string{revenue.ReasonManual, revenue.ReasonBatchImport}, svc.reasons)
}

func TestInvalidateFailureIsUnavailable(t *testing.T) {
	svc := &stubService{invalidateErr: errors.New("redis down")}
	router := newRouter(t, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finance/revenue/invalidate", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestExportIsRateLimited(t *testing.T) {
	router := newRouter(t, &stubService{})

	var last int
	for i := 0; i < 11; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/finance/revenue/export.csv", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}
