// Package metrics defines the prometheus collectors of the client core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "petmem"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	httpAttempts   *prometheus.CounterVec
	syncChanges    *prometheus.CounterVec
	syncFailures   *prometheus.CounterVec
	sessionChanges *prometheus.CounterVec
	checkouts      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "attempts_total",
				Help:      "HTTP attempts by retry tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		syncChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "changes_total",
				Help:      "Local rows changed by reconciliation.",
			},
			[]string{"kind", "op"},
		),
		syncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "failures_total",
				Help:      "Skipped entity reconciliations.",
			},
			[]string{"kind"},
		),
		sessionChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session state transitions.",
			},
			[]string{"state"},
		),
		checkouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cart",
				Name:      "checkouts_total",
				Help:      "Checkout attempts by result.",
			},
			[]string{"result"},
		),
	}
	m.reg.MustRegister(
		m.httpAttempts,
		m.syncChanges,
		m.syncFailures,
		m.sessionChanges,
		m.checkouts,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns an HTTP handler exposing the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// HTTPAttempt counts one transport attempt.
func (m *Metrics) HTTPAttempt(tier, outcome string) {
	if m == nil {
		return
	}
	m.httpAttempts.WithLabelValues(tier, outcome).Inc()
}

// SyncApplied counts inserted/updated/deleted rows of one reconciliation.
func (m *Metrics) SyncApplied(kind string, inserted, updated, deleted int) {
	if m == nil {
		return
	}
	m.syncChanges.WithLabelValues(kind, "insert").Add(float64(inserted))
	m.syncChanges.WithLabelValues(kind, "update").Add(float64(updated))
	m.syncChanges.WithLabelValues(kind, "delete").Add(float64(deleted))
}

// SyncFailed counts a skipped entity reconciliation.
func (m *Metrics) SyncFailed(kind string) {
	if m == nil {
		return
	}
	m.syncFailures.WithLabelValues(kind).Inc()
}

// SessionState counts a transition into state.
func (m *Metrics) SessionState(state string) {
	if m == nil {
		return
	}
	m.sessionChanges.WithLabelValues(state).Inc()
}

// Checkout counts a checkout result ("ok", "empty", "error").
func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}
