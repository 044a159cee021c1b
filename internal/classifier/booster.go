package classifier

import (
	"yarn-agent/model"
)

// Factors maps a step to per-label score multipliers.
type Factors map[model.Step]map[model.Label]float64

// Booster raises the labels a step expects and damps labels that overlap with them.
type Booster struct {
	boosts Factors
	damps  Factors
}

func NewBooster(boosts, damps Factors) *Booster {
	return &Booster{boosts: boosts, damps: damps}
}

func DefaultBoosts() Factors {
	return Factors{
		model.StepWelcome: {
			model.LabelGreeting: 1.4,
			model.LabelQuestion: 1.2,
		},
		model.StepSupportPeople: {
			model.LabelSupportPeople: 1.5,
			model.LabelNoSupport:     1.3,
		},
		model.StepStrengths: {
			model.LabelStrengths:   1.5,
			model.LabelNoStrengths: 1.3,
		},
		model.StepWorries: {
			model.LabelWorries:   1.5,
			model.LabelNoWorries: 1.3,
			model.LabelNegation:  1.2,
		},
		model.StepGoals: {
			model.LabelGoals:       1.5,
			model.LabelNoGoals:     1.3,
			model.LabelAffirmation: 1.1,
		},
	}
}

// DefaultDamps covers phrases like "helping people" that read as a strength at
// the strengths step and as support at the support step.
func DefaultDamps() Factors {
	return Factors{
		model.StepSupportPeople: {
			model.LabelStrengths: 0.7,
		},
		model.StepStrengths: {
			model.LabelSupportPeople: 0.7,
		},
		model.StepWorries: {
			model.LabelGoals: 0.8,
		},
		model.StepGoals: {
			model.LabelWorries: 0.8,
		},
	}
}

func DefaultBooster() *Booster {
	return NewBooster(DefaultBoosts(), DefaultDamps())
}

// Apply returns a new score map adjusted for step. Scores are capped at 1.
func (b *Booster) Apply(step model.Step, scores map[model.Label]float64) map[model.Label]float64 {
	out := make(map[model.Label]float64, len(scores))
	for l, s := range scores {
		if f, ok := b.boosts[step][l]; ok {
			s *= f
		}
		if f, ok := b.damps[step][l]; ok {
			s *= f
		}
		if s > 1 {
			s = 1
		}
		out[l] = s
	}
	return out
}

// Expected reports whether label is boosted at step.
func (b *Booster) Expected(step model.Step, label model.Label) bool {
	f, ok := b.boosts[step][label]
	return ok && f > 1
}
