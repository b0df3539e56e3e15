package revenuehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/revenue/internal/platform/httpx"
)

// MountRoutes registers revenue endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
		}),
	)

	r.Get("/finance/revenue", h.handleMetrics)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/finance/revenue/export.csv", h.handleCSV)
		gr.Post("/finance/revenue/invalidate", h.handleInvalidate)
	})
}
