// Package observability holds the Prometheus metrics of the router.
package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"yarn-agent/model"
)

// Metrics implements classifier.Recorder and service.Recorder. A nil
// *Metrics records nothing.
type Metrics struct {
	classifications *prometheus.CounterVec
	fallthroughs    *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	risk            *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	droppedEvents   *prometheus.CounterVec
}

// New registers the metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yarn_classifications_total",
			Help: "Classifications by tier, method family and label",
		}, []string{"tier", "method", "label"}),
		fallthroughs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yarn_classifier_fallthroughs_total",
			Help: "Tier members skipped because they failed or were not confident",
		}, []string{"tier", "member", "reason"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yarn_routing_decisions_total",
			Help: "Routing decisions by step",
		}, []string{"step", "decision"}),
		risk: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yarn_risk_checks_total",
			Help: "Risk checks by label and method family",
		}, []string{"label", "method"}),
		routeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yarn_route_duration_seconds",
			Help:    "Time to route one message",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"decision"}),
		droppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yarn_events_dropped_total",
			Help: "Analytics events that were not written",
		}, []string{"type"}),
	}
}

// RegisterSessionGauge exports the number of cached sessions.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "yarn_cached_sessions",
		Help: "Sessions held in the in-memory cache",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) ObserveClassification(tier, method string, label model.Label) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(tier, family(method), string(label)).Inc()
}

func (m *Metrics) ObserveFallthrough(tier, member, reason string) {
	if m == nil {
		return
	}
	m.fallthroughs.WithLabelValues(tier, member, reason).Inc()
}

func (m *Metrics) ObserveDecision(step model.Step, decision model.Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(step), string(decision)).Inc()
}

func (m *Metrics) ObserveRisk(label model.Label, method string) {
	if m == nil {
		return
	}
	m.risk.WithLabelValues(string(label), family(method)).Inc()
}

func (m *Metrics) ObserveRoute(decision model.Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.routeDuration.WithLabelValues(string(decision)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDroppedEvent(eventType string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventType).Inc()
}

// family keeps label cardinality bounded: "rules:exact_phrase" becomes "rules".
func family(method string) string {
	if i := strings.IndexByte(method, ':'); i >= 0 {
		return method[:i]
	}
	return method
}
