package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"library_catalog/pkg/catalog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MethodLabel    = "method"
	RouteLabel     = "route"
	StatusLabel    = "status"
	OperationLabel = "operation"
	OutcomeLabel   = "outcome"

	OutcomeSucceeded = "succeeded"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	gatherer        prometheus.Gatherer
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	storeOperations *prometheus.CounterVec
}

// New registers the catalog collectors on reg. The gatherer backs Handler.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		gatherer: gatherer,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_http_requests_total",
				Help: "Monotonic count of HTTP requests served by the catalog API",
			},
			[]string{MethodLabel, RouteLabel, StatusLabel},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_http_request_duration_seconds",
				Help:    "Latency of HTTP requests served by the catalog API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{MethodLabel, RouteLabel},
		),
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_store_operations_total",
				Help: "Monotonic count of catalog store operations by outcome",
			},
			[]string{OperationLabel, OutcomeLabel},
		),
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.storeOperations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewDefault uses a fresh registry that also carries the go and process
// collectors.
func NewDefault() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg, reg)
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveOperation(op string, err error) {
	m.storeOperations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, catalog.ErrNotFound):
		return OutcomeNotFound
	case catalog.IsValidation(err):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}
