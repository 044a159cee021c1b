package service

import (
	"yarn-agent/model"
	"yarn-agent/utils"
)

const (
	DefaultMaxAttempts = 3

	unclearPrefix = "Unclear: "
	skippedPrefix = "Skipped: "
)

// FallbackPolicy decides what to do with one answer at a structured step:
// accept it, ask again, offer to move on, or move on regardless.
type FallbackPolicy struct {
	MaxAttempts int
}

// Verdict is the outcome of one Decide call.
type Verdict struct {
	Decision model.Decision
	// Attempt is the attempt number this message represents at the step;
	// zero when the answer was accepted.
	Attempt int
	// Answer is what gets saved for the step when the session moves on.
	Answer string
	// Skipped is set when the user asked to move on.
	Skipped bool
}

func NewFallbackPolicy(maxAttempts int) FallbackPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return FallbackPolicy{MaxAttempts: maxAttempts}
}

// Decide is pure: the caller owns the attempt counter and the FSM.
func (p FallbackPolicy) Decide(step model.Step, intent model.ClassificationResult, attempts int, text string) Verdict {
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}

	if answers(step, intent, text) {
		return Verdict{Decision: model.DecisionAdvance, Answer: text}
	}
	// The welcome step greets again until it gets a real reply and never
	// counts attempts.
	if step == model.StepWelcome {
		return Verdict{Decision: model.DecisionClarify}
	}
	if attempts > 0 && utils.IsMoveOn(text) {
		return Verdict{Decision: model.DecisionForceAdvance, Attempt: attempts + 1, Answer: skippedPrefix + text, Skipped: true}
	}

	attempt := attempts + 1
	switch {
	case attempt >= limit:
		return Verdict{Decision: model.DecisionForceAdvance, Attempt: attempt, Answer: unclearPrefix + text}
	case attempt == 1:
		return Verdict{Decision: model.DecisionClarify, Attempt: attempt}
	default:
		return Verdict{Decision: model.DecisionOfferChoice, Attempt: attempt}
	}
}
