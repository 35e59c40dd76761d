package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statsTimeout bounds the store query behind the file gauges on each scrape.
const statsTimeout = 2 * time.Second

// metrics holds the service's Prometheus collectors. Each Server owns its
// own registry so that tests can build several servers in one process.
type metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	registrations   *prometheus.CounterVec
}

func newMetrics(st Store) *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tower_registry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tower_registry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tower_registry_registrations_total",
				Help: "Register calls by outcome",
			},
			[]string{"action"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tower_registry_files",
			Help: "Number of registered files",
		},
		func() float64 {
			files, _ := storeTotals(st)
			return files
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tower_registry_files_size_bytes",
			Help: "Sum of the sizes of all registered files",
		},
		func() float64 {
			_, size := storeTotals(st)
			return size
		},
	)

	return m
}

func storeTotals(st Store) (files, size float64) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	s, err := st.Stats(ctx)
	if err != nil {
		return 0, 0
	}

	return float64(s.TotalFiles), float64(s.TotalSizeBytes)
}

// handler serves the registry in the Prometheus exposition format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// record observes one finished request. route is the matched mux pattern so
// that label cardinality stays bounded.
func (m *metrics) record(method, route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
