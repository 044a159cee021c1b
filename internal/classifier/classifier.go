// Package classifier implements the tiered classification used for intent,
// sentiment and risk detection.
//
// A Tier tries its Backend members in priority order. A member that errors,
// panics, times out or answers below the tier threshold is skipped and the
// next one is consulted; the reason is recorded on the result so callers can
// tell a confident answer from a degraded one.
package classifier

import (
	"context"
	"errors"

	"yarn-agent/model"
)

// ErrUnavailable marks a member that could not produce a prediction.
var ErrUnavailable = errors.New("classifier unavailable")

// Hint carries dialogue context for a classification.
type Hint struct {
	Step model.Step
}

type Prediction struct {
	Label      model.Label
	Confidence float64
	// Scores is the optional per-label distribution the label was picked from.
	Scores map[model.Label]float64
	// Method names a sub-method inside the backend, e.g. "exact_phrase".
	Method string
}

// Backend is one member of a tier.
type Backend interface {
	Name() string
	Infer(ctx context.Context, text string, hint Hint) (*Prediction, error)
}

// Recorder receives per-classification observations.
type Recorder interface {
	ObserveClassification(tier, method string, label model.Label)
	ObserveFallthrough(tier, member, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(string, string, model.Label) {}
func (nopRecorder) ObserveFallthrough(string, string, string)         {}
