package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"yarn-agent/internal/classifier"
	"yarn-agent/internal/session"
	"yarn-agent/model"
)

var ErrMissingDependency = errors.New("missing router dependency")

// Conversationalist carries the open conversation once the structured steps
// are done.
type Conversationalist interface {
	Respond(ctx context.Context, s model.Session, text string) (string, error)
}

// Recorder receives routing metrics. observability.Metrics implements it.
type Recorder interface {
	ObserveDecision(step model.Step, decision model.Decision)
	ObserveRisk(label model.Label, method string)
	ObserveRoute(decision model.Decision, elapsed time.Duration)
	ObserveDroppedEvent(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(model.Step, model.Decision) {}
func (nopRecorder) ObserveRisk(model.Label, string)            {}
func (nopRecorder) ObserveRoute(model.Decision, time.Duration) {}
func (nopRecorder) ObserveDroppedEvent(string)                 {}

// Deps wires a Router. Risk, Intent, Sentiment, Store and Replies are required.
type Deps struct {
	Risk      *RiskCheck
	Intent    Classifier
	Sentiment Classifier
	Store     *session.Store
	// Repo receives state changes and saved answers. Optional.
	Repo              session.Repository
	Policy            FallbackPolicy
	Replies           ResponseSelector
	Events            EventSink
	Conversationalist Conversationalist
	Logger            *zap.Logger
	Metrics           Recorder
	Tracer            trace.Tracer
}

// Router is the single entry point of the engine: one call per inbound message.
type Router struct {
	risk      *RiskCheck
	intent    Classifier
	sentiment Classifier
	store     *session.Store
	repo      session.Repository
	fsm       FSM
	policy    FallbackPolicy
	replies   ResponseSelector
	events    EventSink
	convo     Conversationalist
	logger    *zap.Logger
	metrics   Recorder
	tracer    trace.Tracer
	now       func() time.Time
}

func NewRouter(d Deps) (*Router, error) {
	switch {
	case d.Risk == nil:
		return nil, fmt.Errorf("%w: risk check", ErrMissingDependency)
	case d.Intent == nil:
		return nil, fmt.Errorf("%w: intent classifier", ErrMissingDependency)
	case d.Sentiment == nil:
		return nil, fmt.Errorf("%w: sentiment classifier", ErrMissingDependency)
	case d.Store == nil:
		return nil, fmt.Errorf("%w: session store", ErrMissingDependency)
	case d.Replies == nil:
		return nil, fmt.Errorf("%w: response selector", ErrMissingDependency)
	}
	r := &Router{
		risk:      d.Risk,
		intent:    d.Intent,
		sentiment: d.Sentiment,
		store:     d.Store,
		repo:      d.Repo,
		policy:    d.Policy,
		replies:   d.Replies,
		events:    d.Events,
		convo:     d.Conversationalist,
		logger:    d.Logger,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		now:       time.Now,
	}
	if r.policy.MaxAttempts <= 0 {
		r.policy = NewFallbackPolicy(0)
	}
	if r.events == nil {
		r.events = nopSink{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("yarn-agent/service")
	}
	return r, nil
}

// Route handles one message. The risk check always runs first; on risk the
// session is neither loaded for writing nor classified for intent.
func (r *Router) Route(ctx context.Context, sessionID, text string) (*model.RouteResult, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "service.Router.Route", trace.WithAttributes(
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	if sessionID == "" {
		err := fmt.Errorf("%w: session id is empty", session.ErrInvalidParam)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	isRisk, riskRes := r.risk.Check(ctx, text)
	if Degraded(riskRes) {
		r.metrics.ObserveRisk(riskRes.Label, MethodDegraded)
		r.events.Record(model.EventRiskCheckDegraded, map[string]any{
			"session_id": sessionID,
			"fallback":   riskRes.FallbackReason,
		})
	} else {
		r.metrics.ObserveRisk(riskRes.Label, riskRes.Method)
	}

	var (
		res *model.RouteResult
		err error
	)
	if isRisk {
		res = r.escalate(ctx, sessionID, riskRes)
	} else {
		res, err = r.converse(ctx, sessionID, text, riskRes)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Debug.ProcessingTime = r.now().Sub(start)
	r.metrics.ObserveRoute(res.Debug.Decision, res.Debug.ProcessingTime)
	span.SetAttributes(
		attribute.String("decision", string(res.Debug.Decision)),
		attribute.String("state", string(res.NewState)),
		attribute.Bool("risk", res.Debug.RiskDetected),
	)
	return res, nil
}

func (r *Router) escalate(ctx context.Context, sessionID string, riskRes model.ClassificationResult) *model.RouteResult {
	state := model.Steps[0]
	if s, err := r.store.Lookup(ctx, sessionID); err == nil {
		state = s.State
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		r.logger.Warn("[Router] could not read session state", zap.String("session_id", sessionID), zap.Error(err))
	}

	r.logger.Warn("[Router] risk detected",
		zap.String("session_id", sessionID),
		zap.String("state", string(state)),
		zap.String("method", riskRes.Method))
	r.events.Record(model.EventRiskDetected, map[string]any{
		"session_id": sessionID,
		"state":      string(state),
		"label":      string(riskRes.Label),
		"confidence": riskRes.Confidence,
		"method":     riskRes.Method,
	})

	sel := model.ReplySelector{Step: state, Subcategory: model.SubCrisis, SessionID: sessionID}
	return &model.RouteResult{
		Reply:     sel,
		ReplyText: r.replies.Select(sel),
		NewState:  state,
		Debug: model.Debug{
			RiskDetected:    true,
			Classifications: map[string]model.ClassificationResult{"risk": riskRes},
			Decision:        model.DecisionEscalate,
		},
	}
}

func (r *Router) converse(ctx context.Context, sessionID, text string, riskRes model.ClassificationResult) (*model.RouteResult, error) {
	h, err := r.store.Acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire session %s: %w", sessionID, err)
	}
	defer h.Release()
	s := h.Session()

	if !r.fsm.CanAdvance(s) {
		return r.delegate(ctx, s, text, riskRes), nil
	}
	return r.step(ctx, s, text, riskRes), nil
}

// delegate hands a terminal-step message to the open conversation.
func (r *Router) delegate(ctx context.Context, s *model.Session, text string, riskRes model.ClassificationResult) *model.RouteResult {
	sel := model.ReplySelector{Step: s.State, Subcategory: model.SubOpen, SessionID: s.ID}
	reply := ""
	if r.convo != nil {
		out, err := r.convo.Respond(ctx, s.Clone(), text)
		if err != nil {
			r.logger.Warn("[Router] open conversation failed, using fallback reply",
				zap.String("session_id", s.ID), zap.Error(err))
		} else {
			reply = out
		}
	}
	if reply == "" {
		reply = r.replies.Select(sel)
	}

	r.events.Record(model.EventConversationTurn, map[string]any{"session_id": s.ID})
	r.metrics.ObserveDecision(s.State, model.DecisionDelegate)
	return &model.RouteResult{
		Reply:     sel,
		ReplyText: reply,
		NewState:  s.State,
		Debug: model.Debug{
			Classifications: map[string]model.ClassificationResult{"risk": riskRes},
			Decision:        model.DecisionDelegate,
		},
	}
}

// step runs one structured turn. Sentiment only picks the reply tone.
func (r *Router) step(ctx context.Context, s *model.Session, text string, riskRes model.ClassificationResult) *model.RouteResult {
	step := r.fsm.Current(s)
	hint := classifier.Hint{Step: step}
	intent := r.intent.Classify(ctx, text, hint)
	sentiment := r.sentiment.Classify(ctx, text, hint)

	r.events.Record(model.EventIntentClassified, map[string]any{
		"session_id": s.ID,
		"step":       string(step),
		"label":      string(intent.Label),
		"confidence": intent.Confidence,
		"method":     intent.Method,
	})

	v := r.policy.Decide(step, intent, s.Attempts[step], text)
	sel := model.ReplySelector{Step: step, SessionID: s.ID, Sentiment: sentiment.Label}

	switch v.Decision {
	case model.DecisionAdvance, model.DecisionForceAdvance:
		r.fsm.SaveAnswer(s, v.Answer)
		next := r.fsm.Advance(s)
		sel.NextStep = next
		sel.Subcategory = model.SubAcknowledgment
		event := model.EventStepAdvanced
		if v.Decision == model.DecisionForceAdvance {
			sel.Subcategory = model.SubTransitionUnclear
			if v.Skipped {
				sel.Subcategory = model.SubTransitionSkipped
			}
			event = model.EventForceAdvanced
		}
		r.persist(ctx, s.ID, step, next, v.Answer)
		r.events.Record(event, map[string]any{
			"session_id": s.ID,
			"from":       string(step),
			"to":         string(next),
			"attempt":    v.Attempt,
		})
		r.logger.Info("[Router] step advanced",
			zap.String("session_id", s.ID),
			zap.String("from", string(step)),
			zap.String("to", string(next)),
			zap.String("decision", string(v.Decision)))
	case model.DecisionClarify, model.DecisionOfferChoice:
		s.Attempts[step] = v.Attempt
		switch {
		case step == model.StepWelcome:
			sel.Subcategory = model.SubGreeting
		case v.Decision == model.DecisionOfferChoice:
			sel.Subcategory = model.SubOfferChoice
		default:
			sel.Subcategory = model.SubClarify
		}
		r.logger.Debug("[Router] answer unclear",
			zap.String("session_id", s.ID),
			zap.String("step", string(step)),
			zap.Int("attempt", v.Attempt),
			zap.String("intent", string(intent.Label)),
			zap.String("method", intent.Method))
	}
	r.metrics.ObserveDecision(step, v.Decision)

	return &model.RouteResult{
		Reply:     sel,
		ReplyText: r.replies.Select(sel),
		NewState:  s.State,
		Debug: model.Debug{
			Classifications: map[string]model.ClassificationResult{
				"risk":      riskRes,
				"intent":    intent,
				"sentiment": sentiment,
			},
			Decision:     v.Decision,
			AttemptCount: v.Attempt,
		},
	}
}

// persist writes a step change through to the repository. Failures are logged;
// the in-memory session stays authoritative for this process.
func (r *Router) persist(ctx context.Context, id string, left, entered model.Step, answer string) {
	if r.repo == nil {
		return
	}
	if err := r.repo.SaveAnswer(ctx, id, left, answer); err != nil {
		r.logger.Error("[Router] save answer failed", zap.String("session_id", id), zap.String("step", string(left)), zap.Error(err))
	}
	if err := r.repo.UpdateState(ctx, id, entered); err != nil {
		r.logger.Error("[Router] update state failed", zap.String("session_id", id), zap.String("state", string(entered)), zap.Error(err))
	}
}
