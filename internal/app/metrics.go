package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors exported on /metrics. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanImages   prometheus.Histogram
	settlements  *prometheus.CounterVec
	requests     *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billsplit_scans_total",
			Help: "Receipt scan batches by result.",
		}, []string{"result"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsplit_scan_duration_seconds",
			Help:    "Time spent extracting a batch of receipt images.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		scanImages: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsplit_scan_images",
			Help:    "Images per scan batch.",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billsplit_settlements_total",
			Help: "Settle attempts by result.",
		}, []string{"result"}),
		requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billsplit_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) observeScan(images int, started time.Time, result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
	m.scanDuration.Observe(time.Since(started).Seconds())
	m.scanImages.Observe(float64(images))
}

func (m *Metrics) observeSettle(result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// instrument records request latency labelled with the mux pattern and the
// response code.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerDuration(m.requests.MustCurryWith(prometheus.Labels{"route": route}), next)
}
