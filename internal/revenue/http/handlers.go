package revenuehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/revenue/internal/platform/httpx"
	"github.com/odyssey-erp/revenue/internal/revenue"
	"github.com/odyssey-erp/revenue/internal/revenue/export"
)

const defaultRequestTimeout = 30 * time.Second

// MetricsService is the snapshot contract used by the handler.
type MetricsService interface {
	GetMetrics(ctx context.Context, windows []revenue.DateWindow) (revenue.MetricsSnapshot, error)
	Compute(ctx context.Context, windows []revenue.DateWindow) (revenue.MetricsSnapshot, error)
	Invalidate(ctx context.Context, reason string) error
}

// Handler serves revenue snapshots as JSON and CSV.
type Handler struct {
	logger         *slog.Logger
	service        MetricsService
	requestTimeout time.Duration
	csvPool        sync.Pool
}

// NewHandler constructs the revenue HTTP handler.
func NewHandler(logger *slog.Logger, service MetricsService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, service: service, requestTimeout: defaultRequestTimeout}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

// WithRequestTimeout bounds every snapshot computation.
func (h *Handler) WithRequestTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.requestTimeout = d
	}
	return h
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Revenue-Complete", strconv.FormatBool(snap.IsComplete))
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteSnapshotCSV(buf, snap); err != nil {
		h.logError("write revenue csv", err)
		httpx.RespondError(w, err)
		return
	}

	filename := fmt.Sprintf("revenue-%s-%s.csv", strings.ReplaceAll(snap.Window, ",", "_"), snap.AsOf)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = revenue.ReasonManual
	}
	if !validReason(reason) {
		httpx.RespondError(w, fmt.Errorf("%w: unknown reason %q", httpx.ErrValidation, reason))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.service.Invalidate(ctx, reason); err != nil {
		h.logError("invalidate revenue cache", err)
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	h.logger.Info("revenue cache invalidated", slog.String("reason", reason))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (revenue.MetricsSnapshot, bool) {
	windows, err := parseWindows(r)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return revenue.MetricsSnapshot{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var snap revenue.MetricsSnapshot
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		snap, err = h.service.Compute(ctx, windows)
	} else {
		snap, err = h.service.GetMetrics(ctx, windows)
	}
	if err != nil {
		h.respondServiceError(w, err)
		return revenue.MetricsSnapshot{}, false
	}
	return snap, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, revenue.ErrInvalidWindow):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, revenue.ErrCanceled) && errors.Is(err, context.DeadlineExceeded):
		h.logError("revenue snapshot timed out", err)
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrTimeout, err))
	case errors.Is(err, revenue.ErrPartialFetch), errors.Is(err, revenue.ErrCanceled):
		h.logError("revenue snapshot unavailable", err)
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
	default:
		h.logError("revenue snapshot", err)
		httpx.RespondError(w, err)
	}
}

func (h *Handler) logError(msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
}

// parseWindows accepts repeated window parameters and comma separated lists.
// No window means all time.
func parseWindows(r *http.Request) ([]revenue.DateWindow, error) {
	var windows []revenue.DateWindow
	for _, raw := range r.URL.Query()["window"] {
		for _, token := range strings.Split(raw, ",") {
			if strings.TrimSpace(token) == "" {
				continue
			}
			w, err := revenue.ParseWindow(token)
			if err != nil {
				return nil, err
			}
			windows = append(windows, w)
		}
	}
	return windows, nil
}

func validReason(reason string) bool {
	switch reason {
	case revenue.ReasonManual, revenue.ReasonBatchImport, revenue.ReasonSummaryRefresh:
		return true
	}
	return false
}
