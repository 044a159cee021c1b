package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"yarn-agent/internal/classifier"
	"yarn-agent/internal/session"
	"yarn-agent/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubClassifier answers from a table keyed by text and records each call.
type stubClassifier struct {
	mu     sync.Mutex
	byText map[string]model.ClassificationResult
	def    model.ClassificationResult
	hints  []classifier.Hint
}

func (s *stubClassifier) Classify(_ context.Context, text string, hint classifier.Hint) model.ClassificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = append(s.hints, hint)
	if r, ok := s.byText[text]; ok {
		return r
	}
	return s.def
}

func (s *stubClassifier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hints)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Record(eventType string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingSink) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type stubConversationalist struct {
	reply string
	err   error
	seen  model.Session
}

func (c *stubConversationalist) Respond(_ context.Context, s model.Session, _ string) (string, error) {
	c.seen = s
	return c.reply, c.err
}

type fixture struct {
	router    *Router
	intent    *stubClassifier
	sentiment *stubClassifier
	repo      *session.MemoryRepository
	store     *session.Store
	sink      *recordingSink
}

func newFixture(t *testing.T, convo Conversationalist) *fixture {
	t.Helper()
	rules, err := classifier.NewRiskRules(nil)
	require.NoError(t, err)
	riskTier := classifier.NewTier(classifier.TierConfig{
		Name:          "risk",
		DefaultLabel:  model.LabelNoRisk,
		Threshold:     0.5,
		MemberTimeout: time.Second,
	}, []classifier.Backend{rules})

	f := &fixture{
		intent: &stubClassifier{
			byText: map[string]model.ClassificationResult{
				"my nan and my cousins":  {Label: model.LabelSupportPeople, Confidence: 0.8, Method: "model"},
				"I'm good at footy":      {Label: model.LabelStrengths, Confidence: 0.9, Method: "rules:strong"},
				"not good at anything":   {Label: model.LabelNoStrengths, Confidence: 0.7, Method: "rules"},
				"school stuff mostly":    {Label: model.LabelWorries, Confidence: 0.6, Method: "model"},
				"finish year 12":         {Label: model.LabelGoals, Confidence: 0.8, Method: "model"},
				"hey how are you going?": {Label: model.LabelGreeting, Confidence: 0.9, Method: "model"},
			},
			def: model.ClassificationResult{Label: model.LabelUnclear, Method: model.MethodAllFailed},
		},
		sentiment: &stubClassifier{def: model.ClassificationResult{Label: model.LabelNeutral, Confidence: 0.5, Method: "rules"}},
		repo:      session.NewMemoryRepository(),
		sink:      &recordingSink{},
	}
	f.store = session.NewStore(session.Config{}, f.repo, nil)
	replies, err := NewTemplateSelector(nil)
	require.NoError(t, err)

	f.router, err = NewRouter(Deps{
		Risk:              NewRiskCheck(riskTier, nil),
		Intent:            f.intent,
		Sentiment:         f.sentiment,
		Store:             f.store,
		Repo:              f.repo,
		Replies:           replies,
		Events:            f.sink,
		Conversationalist: convo,
	})
	require.NoError(t, err)
	return f
}

// useRuleIntent swaps the stub intent tier for the built-in rule engine.
func (f *fixture) useRuleIntent(t *testing.T) {
	t.Helper()
	rules, err := classifier.NewIntentRules(nil)
	require.NoError(t, err)
	f.router.intent = classifier.NewTier(classifier.TierConfig{
		Name:          "intent",
		DefaultLabel:  model.LabelUnclear,
		Threshold:     0.3,
		Margin:        0.05,
		MemberTimeout: time.Second,
		Booster:       classifier.DefaultBooster(),
	}, []classifier.Backend{rules})
}

type riskCountingRecorder struct {
	mu   sync.Mutex
	risk map[string]int
}

func (c *riskCountingRecorder) ObserveDecision(model.Step, model.Decision) {}

func (c *riskCountingRecorder) ObserveRisk(label model.Label, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.risk == nil {
		c.risk = map[string]int{}
	}
	c.risk[string(label)+"/"+method]++
}

func (c *riskCountingRecorder) ObserveRoute(model.Decision, time.Duration) {}

func (c *riskCountingRecorder) ObserveDroppedEvent(string) {}

func (f *fixture) route(t *testing.T, id, text string) *model.RouteResult {
	t.Helper()
	res, err := f.router.Route(context.Background(), id, text)
	require.NoError(t, err)
	return res
}

func (f *fixture) session(t *testing.T, id string) model.Session {
	t.Helper()
	s, err := f.store.Lookup(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestRouter_FullConversation(t *testing.T) {
	f := newFixture(t, nil)

	steps := []struct {
		text string
		want model.Step
	}{
		{"hey how are you going?", model.StepSupportPeople},
		{"my nan and my cousins", model.StepStrengths},
		{"not good at anything", model.StepWorries},
		{"school stuff mostly", model.StepGoals},
		{"finish year 12", model.StepLLMConversation},
	}
	for _, st := range steps {
		res := f.route(t, "s1", st.text)
		assert.Equal(t, st.want, res.NewState, st.text)
		assert.Equal(t, model.DecisionAdvance, res.Debug.Decision)
		assert.Equal(t, model.SubAcknowledgment, res.Reply.Subcategory)
		assert.Equal(t, st.want, res.Reply.NextStep)
	}

	s := f.session(t, "s1")
	assert.Equal(t, "my nan and my cousins", s.Responses[model.StepSupportPeople])
	assert.Equal(t, "not good at anything", s.Responses[model.StepStrengths])

	rec, err := f.repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StepLLMConversation, rec.State)
	assert.Equal(t, "finish year 12", rec.Answers[model.StepGoals])

	assert.Equal(t, model.StepWorries, f.intent.hints[3].Step, "intent runs with the step hint")
	assert.True(t, f.sink.has(model.EventStepAdvanced))
}

func TestRouter_RiskShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	f.route(t, "s1", "hey how are you going?")
	require.Equal(t, model.StepSupportPeople, f.session(t, "s1").State)
	intentCalls, sentimentCalls := f.intent.calls(), f.sentiment.calls()

	res := f.route(t, "s1", "I want to kill myself")

	assert.True(t, res.Debug.RiskDetected)
	assert.Equal(t, model.DecisionEscalate, res.Debug.Decision)
	assert.Equal(t, model.SubCrisis, res.Reply.Subcategory)
	assert.Contains(t, res.ReplyText, "13YARN")
	assert.Equal(t, model.StepSupportPeople, res.NewState)
	assert.Equal(t, intentCalls, f.intent.calls(), "intent must not run on risk")
	assert.Equal(t, sentimentCalls, f.sentiment.calls())
	assert.Equal(t, model.StepSupportPeople, f.session(t, "s1").State)
	assert.Zero(t, f.session(t, "s1").Attempts[model.StepSupportPeople])
	assert.True(t, f.sink.has(model.EventRiskDetected))
	assert.Equal(t, model.LabelRisk, res.Debug.Classifications["risk"].Label)
}

func TestRouter_RiskOnUnknownSessionDoesNotCreateIt(t *testing.T) {
	f := newFixture(t, nil)

	res := f.route(t, "fresh", "i want to die")
	assert.True(t, res.Debug.RiskDetected)
	assert.Equal(t, model.StepWelcome, res.NewState)

	_, err := f.repo.Get(context.Background(), "fresh")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Zero(t, f.store.Len())
}

func TestRouter_ProgressiveFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.route(t, "s1", "hey how are you going?")

	first := f.route(t, "s1", "idk")
	assert.Equal(t, model.DecisionClarify, first.Debug.Decision)
	assert.Equal(t, model.SubClarify, first.Reply.Subcategory)
	assert.Equal(t, model.StepSupportPeople, first.NewState)
	assert.Equal(t, 1, first.Debug.AttemptCount)

	second := f.route(t, "s1", "hmm")
	assert.Equal(t, model.DecisionOfferChoice, second.Debug.Decision)
	assert.Equal(t, model.SubOfferChoice, second.Reply.Subcategory)
	assert.Equal(t, model.StepSupportPeople, second.NewState)
	assert.Equal(t, 2, second.Debug.AttemptCount)

	third := f.route(t, "s1", "whatever")
	assert.Equal(t, model.DecisionForceAdvance, third.Debug.Decision)
	assert.Equal(t, model.SubTransitionUnclear, third.Reply.Subcategory)
	assert.Equal(t, model.StepStrengths, third.NewState)
	assert.Contains(t, third.ReplyText, "What are some things you're good at")

	s := f.session(t, "s1")
	assert.Zero(t, s.Attempts[model.StepSupportPeople])
	assert.Equal(t, "Unclear: whatever", s.Responses[model.StepSupportPeople])
	assert.True(t, f.sink.has(model.EventForceAdvanced))
}

func TestRouter_MoveOnSkipsStep(t *testing.T) {
	f := newFixture(t, nil)
	f.route(t, "s1", "hey how are you going?")
	f.route(t, "s1", "idk")

	res := f.route(t, "s1", "can we move on")
	assert.Equal(t, model.DecisionForceAdvance, res.Debug.Decision)
	assert.Equal(t, model.SubTransitionSkipped, res.Reply.Subcategory)
	assert.Equal(t, model.StepStrengths, res.NewState)
	assert.Equal(t, "Skipped: can we move on", f.session(t, "s1").Responses[model.StepSupportPeople])
}

func TestRouter_TerminalDelegates(t *testing.T) {
	convo := &stubConversationalist{reply: "That's deadly, tell me more."}
	f := newFixture(t, convo)
	ctx := context.Background()
	require.NoError(t, f.repo.Create(ctx, "s1", model.StepWelcome))
	require.NoError(t, f.repo.UpdateState(ctx, "s1", model.StepLLMConversation))
	require.NoError(t, f.repo.SaveAnswer(ctx, "s1", model.StepGoals, "finish year 12"))

	res := f.route(t, "s1", "I got my L plates today")
	assert.Equal(t, model.DecisionDelegate, res.Debug.Decision)
	assert.Equal(t, "That's deadly, tell me more.", res.ReplyText)
	assert.Equal(t, model.StepLLMConversation, res.NewState)
	assert.Zero(t, f.intent.calls(), "no step classification once terminal")
	assert.Equal(t, "finish year 12", convo.seen.Responses[model.StepGoals])
}

func TestRouter_TerminalFallsBackWhenConversationFails(t *testing.T) {
	f := newFixture(t, &stubConversationalist{err: errors.New("llm down")})
	ctx := context.Background()
	require.NoError(t, f.repo.Create(ctx, "s1", model.StepWelcome))
	require.NoError(t, f.repo.UpdateState(ctx, "s1", model.StepLLMConversation))

	res := f.route(t, "s1", "anyway")
	assert.Equal(t, model.SubOpen, res.Reply.Subcategory)
	assert.NotEmpty(t, res.ReplyText)
}

func TestRouter_DegradedRiskCheckIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.router.risk = NewRiskCheck(classifier.NewTier(classifier.TierConfig{
		Name:         "risk",
		DefaultLabel: model.LabelNoRisk,
		Threshold:    0.5,
	}, nil), nil)

	rec := &riskCountingRecorder{}
	f.router.metrics = rec

	res := f.route(t, "s1", "hey how are you going?")
	assert.False(t, res.Debug.RiskDetected)
	assert.Equal(t, model.MethodAllFailed, res.Debug.Classifications["risk"].Method)
	assert.True(t, f.sink.has(model.EventRiskCheckDegraded))
	assert.Equal(t, model.StepSupportPeople, res.NewState)
	assert.Equal(t, map[string]int{"no_risk/" + MethodDegraded: 1}, rec.risk)
}

func TestRouter_HealthyRiskCheckIsNotCountedAsDegraded(t *testing.T) {
	f := newFixture(t, nil)
	rec := &riskCountingRecorder{}
	f.router.metrics = rec

	f.route(t, "s1", "hey how are you going?")
	f.route(t, "s1", "I'll be dead tired after footy training tonight")

	total := 0
	for key, n := range rec.risk {
		assert.NotContains(t, key, MethodDegraded)
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestRouter_IdiomIsNotEscalated(t *testing.T) {
	f := newFixture(t, nil)
	f.route(t, "s1", "hey how are you going?")

	res := f.route(t, "s1", "I'll be dead tired after footy training tonight")
	assert.False(t, res.Debug.RiskDetected)
	assert.NotEqual(t, model.DecisionEscalate, res.Debug.Decision)
	assert.Equal(t, model.LabelNoRisk, res.Debug.Classifications["risk"].Label)
	assert.False(t, f.sink.has(model.EventRiskDetected))
}

func TestRouter_WelcomeShortReplyGreetsAgain(t *testing.T) {
	f := newFixture(t, nil)

	for _, text := range []string{"hi", "yo", " ok "} {
		res := f.route(t, "s1", text)
		assert.Equal(t, model.StepWelcome, res.NewState, text)
		assert.Equal(t, model.SubGreeting, res.Reply.Subcategory, text)
		assert.Zero(t, res.Debug.AttemptCount, text)
		assert.Contains(t, res.ReplyText, "G'day", text)
	}
	assert.Zero(t, f.session(t, "s1").Attempts[model.StepWelcome])

	res := f.route(t, "s1", "hey how are you going?")
	assert.Equal(t, model.StepSupportPeople, res.NewState)
}

func TestRouter_AnswerWithMoveOnWordsIsSaved(t *testing.T) {
	f := newFixture(t, nil)
	f.useRuleIntent(t)
	require.NoError(t, f.repo.Create(context.Background(), "s1", model.StepGoals))

	first := f.route(t, "s1", "hmm")
	require.Equal(t, model.DecisionClarify, first.Debug.Decision)
	require.Equal(t, 1, f.session(t, "s1").Attempts[model.StepGoals])

	res := f.route(t, "s1", "I want to keep going to school")
	assert.Equal(t, model.DecisionAdvance, res.Debug.Decision)
	assert.Equal(t, model.SubAcknowledgment, res.Reply.Subcategory)
	assert.Equal(t, model.StepLLMConversation, res.NewState)
	assert.Equal(t, "I want to keep going to school", f.session(t, "s1").Responses[model.StepGoals])
}

func TestRouter_RuleIntentAnswersAdvance(t *testing.T) {
	tests := []struct {
		name string
		step model.Step
		text string
		next model.Step
	}{
		{"never good at anything", model.StepStrengths, "I'm never good at anything", model.StepWorries},
		{"no goals", model.StepGoals, "I don't have any goals", model.StepLLMConversation},
		{"helping others", model.StepStrengths, "I help others", model.StepWorries},
		{"others help me", model.StepSupportPeople, "others help me", model.StepStrengths},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.useRuleIntent(t)
			require.NoError(t, f.repo.Create(context.Background(), "s1", tt.step))

			res := f.route(t, "s1", tt.text)
			assert.Equal(t, model.DecisionAdvance, res.Debug.Decision,
				"intent=%s", res.Debug.Classifications["intent"].Label)
			assert.Equal(t, tt.next, res.NewState)
			assert.Equal(t, tt.text, f.session(t, "s1").Responses[tt.step])
		})
	}
}

func TestRouter_ConcurrentMessagesSameSession(t *testing.T) {
	f := newFixture(t, nil)
	f.route(t, "s1", "hey how are you going?")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.router.Route(context.Background(), "s1", "my nan and my cousins")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// One advance at support_people, three misses at strengths and at worries,
	// then one miss at goals. Lost updates would show up as a different step.
	s := f.session(t, "s1")
	assert.Equal(t, model.StepGoals, s.State)
	assert.Equal(t, 1, s.Attempts[model.StepGoals])
	assert.Equal(t, "my nan and my cousins", s.Responses[model.StepSupportPeople])
	assert.Equal(t, "Unclear: my nan and my cousins", s.Responses[model.StepStrengths])
	assert.Equal(t, "Unclear: my nan and my cousins", s.Responses[model.StepWorries])
}

func TestRouter_EmptySessionID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.router.Route(context.Background(), "", "hello")
	assert.ErrorIs(t, err, session.ErrInvalidParam)
}

func TestNewRouter_MissingDependency(t *testing.T) {
	_, err := NewRouter(Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}
