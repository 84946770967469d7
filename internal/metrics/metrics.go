// Package metrics exposes Prometheus collectors for license activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validation outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeMissingFields    = "missing_fields"
	OutcomeNotFound         = "not_found"
	OutcomeInactive         = "inactive"
	OutcomeExpired          = "expired"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeError            = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	validations *prometheus.CounterVec
	lifecycle   *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensegate",
			Name:      "validations_total",
			Help:      "License validation requests by outcome.",
		}, []string{"outcome"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensegate",
			Name:      "license_actions_total",
			Help:      "License lifecycle actions by audit action tag.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.validations,
		m.lifecycle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveValidation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAction(action string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(action).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
