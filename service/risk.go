package service

import (
	"context"

	"go.uber.org/zap"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
)

// MethodDegraded is the method reported to metrics for a risk check where no
// member answered, keeping it apart from ordinary all_failed fallbacks.
const MethodDegraded = "degraded"

// Classifier is one classification tier as seen by the router.
type Classifier interface {
	Classify(ctx context.Context, text string, hint classifier.Hint) model.ClassificationResult
}

// RiskCheck runs the risk tier. It does not depend on the conversation step.
type RiskCheck struct {
	tier   Classifier
	logger *zap.Logger
}

func NewRiskCheck(tier Classifier, logger *zap.Logger) *RiskCheck {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskCheck{tier: tier, logger: logger}
}

// Check reports whether text carries self-harm risk.
//
// When no member of the tier produced any prediction the result is no_risk.
// That fails open, so it is logged at warn level and reported as degraded.
func (c *RiskCheck) Check(ctx context.Context, text string) (bool, model.ClassificationResult) {
	res := c.tier.Classify(ctx, text, classifier.Hint{})
	if Degraded(res) {
		c.logger.Warn("[RiskCheck] no member answered, treating as no_risk",
			zap.String("fallback", res.FallbackReason))
		return false, res
	}
	return res.Label == model.LabelRisk, res
}

// Degraded reports whether a risk result came from a tier where every member
// failed outright. A below-threshold candidate still counts as a check.
func Degraded(res model.ClassificationResult) bool {
	return res.Method == model.MethodAllFailed && res.Candidate == nil
}
