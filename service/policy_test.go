package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"yarn-agent/model"
)

func intentResult(label model.Label, conf float64) model.ClassificationResult {
	return model.ClassificationResult{Label: label, Confidence: conf, Method: "model"}
}

func TestFallbackPolicy_Decide(t *testing.T) {
	unclear := model.ClassificationResult{Label: model.LabelUnclear, Method: model.MethodAllFailed}

	tests := []struct {
		name     string
		step     model.Step
		intent   model.ClassificationResult
		attempts int
		text     string
		want     Verdict
	}{
		{
			name:   "expected label advances",
			step:   model.StepSupportPeople,
			intent: intentResult(model.LabelSupportPeople, 0.8),
			text:   "my nan",
			want:   Verdict{Decision: model.DecisionAdvance, Answer: "my nan"},
		},
		{
			name:   "negated topic is still an answer",
			step:   model.StepStrengths,
			intent: intentResult(model.LabelNoStrengths, 0.7),
			text:   "not good at anything",
			want:   Verdict{Decision: model.DecisionAdvance, Answer: "not good at anything"},
		},
		{
			name:   "off-step label is not an answer",
			step:   model.StepSupportPeople,
			intent: intentResult(model.LabelGoals, 0.9),
			text:   "finish school",
			want:   Verdict{Decision: model.DecisionClarify, Attempt: 1},
		},
		{
			name:     "second miss offers a choice",
			step:     model.StepWorries,
			intent:   unclear,
			attempts: 1,
			text:     "hmm",
			want:     Verdict{Decision: model.DecisionOfferChoice, Attempt: 2},
		},
		{
			name:     "third miss forces the step",
			step:     model.StepWorries,
			intent:   unclear,
			attempts: 2,
			text:     "dunno",
			want:     Verdict{Decision: model.DecisionForceAdvance, Attempt: 3, Answer: "Unclear: dunno"},
		},
		{
			name:     "move on after a miss",
			step:     model.StepGoals,
			intent:   intentResult(model.LabelAffirmation, 0.6),
			attempts: 1,
			text:     "let's move on",
			want:     Verdict{Decision: model.DecisionForceAdvance, Attempt: 2, Answer: "Skipped: let's move on", Skipped: true},
		},
		{
			name:   "move on without a miss is just unclear",
			step:   model.StepGoals,
			intent: unclear,
			text:   "next",
			want:   Verdict{Decision: model.DecisionClarify, Attempt: 1},
		},
		{
			name:   "welcome takes any substantial reply",
			step:   model.StepWelcome,
			intent: unclear,
			text:   "not bad thanks",
			want:   Verdict{Decision: model.DecisionAdvance, Answer: "not bad thanks"},
		},
		{
			name:   "welcome short reply",
			step:   model.StepWelcome,
			intent: unclear,
			text:   " ok ",
			want:   Verdict{Decision: model.DecisionClarify},
		},
		{
			name:     "welcome never counts attempts",
			step:     model.StepWelcome,
			intent:   intentResult(model.LabelGreeting, 0.9),
			attempts: 2,
			text:     "hi",
			want:     Verdict{Decision: model.DecisionClarify},
		},
		{
			name:     "answer wins over move-on words",
			step:     model.StepGoals,
			intent:   intentResult(model.LabelGoals, 0.45),
			attempts: 1,
			text:     "I want to keep going to school",
			want:     Verdict{Decision: model.DecisionAdvance, Answer: "I want to keep going to school"},
		},
		{
			name:   "bare negation answers goals",
			step:   model.StepGoals,
			intent: intentResult(model.LabelNegation, 0.5),
			text:   "nah never",
			want:   Verdict{Decision: model.DecisionAdvance, Answer: "nah never"},
		},
	}

	p := NewFallbackPolicy(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.step, tt.intent, tt.attempts, tt.text))
		})
	}
}

func TestFallbackPolicy_MaxAttempts(t *testing.T) {
	p := NewFallbackPolicy(1)
	v := p.Decide(model.StepStrengths, intentResult(model.LabelUnclear, 0.9), 0, "eh")
	assert.Equal(t, model.DecisionForceAdvance, v.Decision)

	p = NewFallbackPolicy(5)
	for attempts, want := range []model.Decision{
		model.DecisionClarify,
		model.DecisionOfferChoice,
		model.DecisionOfferChoice,
		model.DecisionOfferChoice,
		model.DecisionForceAdvance,
	} {
		assert.Equal(t, want, p.Decide(model.StepStrengths, intentResult(model.LabelUnclear, 0.9), attempts, "eh").Decision)
	}
}
