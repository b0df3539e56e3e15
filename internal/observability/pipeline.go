package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics mencatat peristiwa pipeline agregasi revenue.
type PipelineMetrics struct {
	pages     *prometheus.CounterVec
	rows      *prometheus.CounterVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	malformed prometheus.Counter
	lookups   *prometheus.CounterVec
	aborts    *prometheus.CounterVec
}

// NewPipelineMetrics mendaftarkan kolektor pipeline pada registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_pages_total",
			Help: "Halaman invoice yang berhasil diambil per relasi.",
		}, []string{"relation"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_rows_fetched_total",
			Help: "Baris invoice yang diambil per relasi.",
		}, []string{"relation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_page_retries_total",
			Help: "Percobaan ulang pengambilan halaman.",
		}, []string{"relation"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_relation_fallbacks_total",
			Help: "Peralihan dari view analitik ke tabel mentah.",
		}, []string{"from", "to"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_revenue_malformed_rows_total",
			Help: "Baris yang nilainya dikoreksi saat parsing.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_cache_lookups_total",
			Help: "Pencarian cache snapshot per tier dan hasil.",
		}, []string{"tier", "result"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_revenue_window_aborts_total",
			Help: "Window yang dibatalkan beserta alasannya.",
		}, []string{"reason"}),
	}
	registerer.MustRegister(m.pages, m.rows, m.retries, m.fallbacks, m.malformed, m.lookups, m.aborts)
	return m
}

func (m *PipelineMetrics) PageFetched(relation string, rows int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(relation).Inc()
	m.rows.WithLabelValues(relation).Add(float64(rows))
}

func (m *PipelineMetrics) PageRetried(relation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(relation).Inc()
}

func (m *PipelineMetrics) RelationFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from, to).Inc()
}

func (m *PipelineMetrics) MalformedRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformed.Add(float64(n))
}

func (m *PipelineMetrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(tier, result).Inc()
}

func (m *PipelineMetrics) WindowAborted(reason string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(reason).Inc()
}
