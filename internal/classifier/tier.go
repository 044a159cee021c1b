package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"yarn-agent/model"
)

const (
	reasonUnavailable = "unavailable"
	reasonLowConf     = "below_threshold"
)

type TierConfig struct {
	// Name identifies the tier in logs and metrics: intent, sentiment or risk.
	Name string
	// DefaultLabel is returned for empty input, ambiguity and exhaustion.
	DefaultLabel model.Label
	Threshold    float64
	// Margin below which the top two labels count as a tie. Zero disables tie-breaking.
	Margin        float64
	MemberTimeout time.Duration
	Booster       *Booster
}

type Tier struct {
	cfg     TierConfig
	members []Backend
	logger  *zap.Logger
	rec     Recorder
	tracer  trace.Tracer
}

type TierOption func(*Tier)

func WithLogger(l *zap.Logger) TierOption {
	return func(t *Tier) { t.logger = l }
}

func WithRecorder(r Recorder) TierOption {
	return func(t *Tier) { t.rec = r }
}

func WithTracer(tr trace.Tracer) TierOption {
	return func(t *Tier) { t.tracer = tr }
}

// NewTier builds a tier that consults members in the given order.
func NewTier(cfg TierConfig, members []Backend, opts ...TierOption) *Tier {
	if cfg.DefaultLabel == "" {
		cfg.DefaultLabel = model.LabelUnclear
	}
	t := &Tier{
		cfg:     cfg,
		members: members,
		logger:  zap.NewNop(),
		rec:     nopRecorder{},
		tracer:  otel.Tracer("yarn-agent/classifier"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tier) Name() string { return t.cfg.Name }

// Members returns the member names in priority order.
func (t *Tier) Members() []string {
	names := make([]string, len(t.members))
	for i, m := range t.members {
		names[i] = m.Name()
	}
	return names
}

// Classify runs the members in order and returns the first prediction at or
// above the threshold. It never returns an error: exhaustion yields the
// default label with method all_failed.
func (t *Tier) Classify(ctx context.Context, text string, hint Hint) model.ClassificationResult {
	ctx, span := t.tracer.Start(ctx, "classifier.Tier.Classify",
		trace.WithAttributes(
			attribute.String("tier", t.cfg.Name),
			attribute.String("step", string(hint.Step)),
		))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		res := model.ClassificationResult{
			Label:      t.cfg.DefaultLabel,
			Confidence: 0,
			Method:     model.MethodEmptyInput,
		}
		t.finish(span, res)
		return res
	}

	var (
		reasons []string
		best    *model.Candidate
	)
	for _, m := range t.members {
		pred, err := t.invoke(ctx, m, text, hint)
		if err != nil {
			t.logger.Debug("[Classifier] member unavailable",
				zap.String("tier", t.cfg.Name),
				zap.String("member", m.Name()),
				zap.Error(err))
			t.rec.ObserveFallthrough(t.cfg.Name, m.Name(), reasonUnavailable)
			reasons = append(reasons, fmt.Sprintf("%s: %v", m.Name(), err))
			continue
		}

		method := m.Name()
		if pred.Method != "" {
			method += ":" + pred.Method
		}
		label, conf, tie := t.resolve(pred, hint)

		if conf < t.cfg.Threshold {
			t.rec.ObserveFallthrough(t.cfg.Name, m.Name(), reasonLowConf)
			reasons = append(reasons, fmt.Sprintf("%s: %s %.2f below threshold %.2f", m.Name(), label, conf, t.cfg.Threshold))
			if best == nil || conf > best.Confidence {
				best = &model.Candidate{Label: label, Confidence: conf, Method: method}
			}
			continue
		}

		if tie != "" {
			reasons = append(reasons, fmt.Sprintf("%s: ambiguous %s", m.Name(), tie))
			label = t.cfg.DefaultLabel
		}
		res := model.ClassificationResult{
			Label:          label,
			Confidence:     conf,
			Method:         method,
			FallbackReason: strings.Join(reasons, "; "),
		}
		t.finish(span, res)
		return res
	}

	res := model.ClassificationResult{
		Label:          t.cfg.DefaultLabel,
		Confidence:     0,
		Method:         model.MethodAllFailed,
		FallbackReason: strings.Join(reasons, "; "),
		Candidate:      best,
	}
	if len(t.members) == 0 {
		res.FallbackReason = "no members configured"
	}
	t.logger.Info("[Classifier] all members exhausted",
		zap.String("tier", t.cfg.Name),
		zap.String("reason", res.FallbackReason))
	t.finish(span, res)
	return res
}

func (t *Tier) finish(span trace.Span, res model.ClassificationResult) {
	span.SetAttributes(
		attribute.String("label", string(res.Label)),
		attribute.Float64("confidence", res.Confidence),
		attribute.String("method", res.Method),
		attribute.Bool("fallback", res.FallbackReason != ""),
	)
	t.rec.ObserveClassification(t.cfg.Name, methodFamily(res.Method), res.Label)
}

// methodFamily strips the sub-method so metric label cardinality stays bounded.
func methodFamily(method string) string {
	if i := strings.IndexByte(method, ':'); i >= 0 {
		return method[:i]
	}
	return method
}

type outcome struct {
	pred *Prediction
	err  error
}

// invoke calls one member under the member timeout. A member that overruns is
// abandoned; its goroutine exits once it notices the cancelled context.
func (t *Tier) invoke(ctx context.Context, m Backend, text string, hint Hint) (*Prediction, error) {
	if t.cfg.MemberTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.MemberTimeout)
		defer cancel()
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%w: panic: %v", ErrUnavailable, r)}
			}
		}()
		p, err := m.Infer(ctx, text, hint)
		ch <- outcome{pred: p, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, o.err)
		}
		if o.pred == nil || o.pred.Label == "" {
			return nil, fmt.Errorf("%w: empty prediction", ErrUnavailable)
		}
		return o.pred, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

type scored struct {
	label model.Label
	score float64
}

// resolve applies context boosting and picks the top label. tie is non-empty
// when the runner-up is within the margin.
func (t *Tier) resolve(pred *Prediction, hint Hint) (model.Label, float64, string) {
	scores := make(map[model.Label]float64, len(pred.Scores)+1)
	for l, s := range pred.Scores {
		scores[l] = s
	}
	if _, ok := scores[pred.Label]; !ok {
		scores[pred.Label] = pred.Confidence
	}
	if t.cfg.Booster != nil && hint.Step != "" {
		scores = t.cfg.Booster.Apply(hint.Step, scores)
	}

	ranked := make([]scored, 0, len(scores))
	for l, s := range scores {
		ranked = append(ranked, scored{l, clamp01(s)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].label < ranked[j].label
	})

	top := ranked[0]
	if t.cfg.Margin > 0 && len(ranked) > 1 && top.label != t.cfg.DefaultLabel {
		second := ranked[1]
		if second.label != t.cfg.DefaultLabel && top.score-second.score < t.cfg.Margin {
			return top.label, top.score, fmt.Sprintf("%s %.2f vs %s %.2f", top.label, top.score, second.label, second.score)
		}
	}
	return top.label, top.score, ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
