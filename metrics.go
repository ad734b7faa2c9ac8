package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks gate decisions, role resolution and token issuance.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	GateDecisions     *prometheus.CounterVec
	RoleFetchDuration prometheus.Histogram
	RoleFetchErrors   prometheus.Counter
	TokenIssued       *prometheus.CounterVec
	ActiveClients     prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil registerer builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourgate_gate_decisions_total",
			Help: "Authorization gate decisions by resulting state",
		}, []string{"state"}),
		RoleFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourgate_role_fetch_duration_seconds",
			Help:    "Duration of backend role lookups",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RoleFetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tourgate_role_fetch_errors_total",
			Help: "Failed backend role lookups",
		}),
		TokenIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourgate_token_issue_total",
			Help: "Backend token issuance attempts by result",
		}, []string{"result"}),
		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tourgate_active_clients",
			Help: "Client sessions currently held in memory",
		}),
	}
}

// ObserveDecision counts a gate decision.
func (m *Metrics) ObserveDecision(state GateState) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(state.String()).Inc()
}

// ObserveRoleFetch records the duration of a role lookup.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRoleFetch(start time.Time, err error) {
	if m == nil {
		return
	}
	m.RoleFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.RoleFetchErrors.Inc()
	}
}

// ObserveTokenIssue counts a token issuance attempt.
func (m *Metrics) ObserveTokenIssue(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.TokenIssued.WithLabelValues(result).Inc()
}

// SetActiveClients updates the in-memory client gauge.
func (m *Metrics) SetActiveClients(n int) {
	if m == nil {
		return
	}
	m.ActiveClients.Set(float64(n))
}
