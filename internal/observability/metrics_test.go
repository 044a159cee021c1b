package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
	"yarn-agent/service"
)

var (
	_ classifier.Recorder = (*Metrics)(nil)
	_ service.Recorder    = (*Metrics)(nil)
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveClassification("risk", "rules:exact_phrase", model.LabelRisk)
	m.ObserveClassification("risk", "rules:critical_context", model.LabelRisk)
	m.ObserveFallthrough("intent", "model", "unavailable")
	m.ObserveDecision(model.StepStrengths, model.DecisionClarify)
	m.ObserveRisk(model.LabelNoRisk, "rules:no_match")
	m.ObserveRoute(model.DecisionAdvance, 20*time.Millisecond)
	m.ObserveDroppedEvent(model.EventStepAdvanced)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.classifications.WithLabelValues("risk", "rules", "risk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallthroughs.WithLabelValues("intent", "model", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("strengths", "clarify")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.risk.WithLabelValues("no_risk", "rules")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedEvents.WithLabelValues("step_advanced")))

	RegisterSessionGauge(reg, func() int { return 7 })
	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP yarn_cached_sessions Sessions held in the in-memory cache
# TYPE yarn_cached_sessions gauge
yarn_cached_sessions 7
`), "yarn_cached_sessions")
	require.NoError(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveClassification("intent", "model", model.LabelGoals)
		m.ObserveFallthrough("intent", "llm", "below_threshold")
		m.ObserveDecision(model.StepGoals, model.DecisionAdvance)
		m.ObserveRisk(model.LabelRisk, "llm")
		m.ObserveRoute(model.DecisionEscalate, time.Second)
		m.ObserveDroppedEvent("x")
	})
}
