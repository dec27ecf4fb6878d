package obs

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors used by the HTTP layer and the invoice
// service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ReqTotal          *prometheus.CounterVec
	ReqDur            *prometheus.HistogramVec
	InFlight          prometheus.Gauge
	DraftMutations    *prometheus.CounterVec
	InvoicesFinalized *prometheus.CounterVec
	CatalogLoads      *prometheus.CounterVec
	OpenDrafts        prometheus.Gauge
}

// NewMetrics creates and registers every collector on reg, falling back to
// the default registerer when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		DraftMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_mutations_total",
			Help:      "Draft edits by operation and outcome.",
		}, []string{"op", "result"}),
		InvoicesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_finalized_total",
			Help:      "Finalize attempts by outcome.",
		}, []string{"result"}),
		CatalogLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_loads_total",
			Help:      "Catalog listing loads by source.",
		}, []string{"source"}),
		OpenDrafts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_drafts",
			Help:      "Number of live invoice drafts.",
		}),
	}
	m.ReqTotal = register(reg, m.ReqTotal)
	m.ReqDur = register(reg, m.ReqDur)
	m.InFlight = register(reg, m.InFlight)
	m.DraftMutations = register(reg, m.DraftMutations)
	m.InvoicesFinalized = register(reg, m.InvoicesFinalized)
	m.CatalogLoads = register(reg, m.CatalogLoads)
	m.OpenDrafts = register(reg, m.OpenDrafts)
	return m
}

// register reuses an already registered collector of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
	return c
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.ReqTotal.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.ReqDur.WithLabelValues(method, route).Observe(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) TrackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) DraftMutation(op string, err error) {
	if m == nil {
		return
	}
	m.DraftMutations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Finalized(err error) {
	if m == nil {
		return
	}
	m.InvoicesFinalized.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) CatalogLoaded(source string) {
	if m == nil {
		return
	}
	m.CatalogLoads.WithLabelValues(source).Inc()
}

func (m *Metrics) SetOpenDrafts(n int) {
	if m == nil {
		return
	}
	m.OpenDrafts.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
