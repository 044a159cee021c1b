package model

import (
	"time"
)

type Step string

const (
	StepWelcome         Step = "welcome"
	StepSupportPeople   Step = "support_people"
	StepStrengths       Step = "strengths"
	StepWorries         Step = "worries"
	StepGoals           Step = "goals"
	StepLLMConversation Step = "llm_conversation"
)

// Steps is the fixed forward order of the conversation. The last step is terminal.
var Steps = []Step{
	StepWelcome,
	StepSupportPeople,
	StepStrengths,
	StepWorries,
	StepGoals,
	StepLLMConversation,
}

// Index returns the position of s in Steps, or -1 for an unknown step.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

func (s Step) Terminal() bool {
	return s == Steps[len(Steps)-1]
}

// Next returns the single forward successor of s. A terminal or unknown step returns itself.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i == len(Steps)-1 {
		return s
	}
	return Steps[i+1]
}

// ParseStep maps a stored value back to a Step.
func ParseStep(v string) (Step, bool) {
	s := Step(v)
	return s, s.Valid()
}

type Label string

// Intent labels.
const (
	LabelGreeting      Label = "greeting"
	LabelQuestion      Label = "question"
	LabelAffirmation   Label = "affirmation"
	LabelNegation      Label = "negation"
	LabelSupportPeople Label = "support_people"
	LabelStrengths     Label = "strengths"
	LabelWorries       Label = "worries"
	LabelGoals         Label = "goals"
	LabelNoSupport     Label = "no_support"
	LabelNoStrengths   Label = "no_strengths"
	LabelNoWorries     Label = "no_worries"
	LabelNoGoals       Label = "no_goals"
	LabelUnclear       Label = "unclear"
)

// Sentiment labels.
const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// Risk labels.
const (
	LabelRisk   Label = "risk"
	LabelNoRisk Label = "no_risk"
)

// NotApplicable marks a result whose confidence has no meaning, such as a
// delegated open-conversation turn.
const NotApplicable = -1.0

// Method tags that are not a backend name.
const (
	MethodEmptyInput = "empty_input"
	MethodAllFailed  = "all_failed"
	MethodSkipped    = "skipped"
)

type ClassificationResult struct {
	Label          Label   `json:"label"`
	Confidence     float64 `json:"confidence"`
	Method         string  `json:"method"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
	// Candidate is the best below-threshold prediction seen when every member fell through.
	Candidate *Candidate `json:"candidate,omitempty"`
}

type Candidate struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

func (r ClassificationResult) Applicable() bool {
	return r.Confidence != NotApplicable
}

type Session struct {
	ID           string          `json:"id"`
	State        Step            `json:"state"`
	Responses    map[Step]string `json:"responses"`
	Attempts     map[Step]int    `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		State:        Steps[0],
		Responses:    make(map[Step]string),
		Attempts:     make(map[Step]int),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy safe to hand out of the session lock.
func (s *Session) Clone() Session {
	c := *s
	c.Responses = make(map[Step]string, len(s.Responses))
	for k, v := range s.Responses {
		c.Responses[k] = v
	}
	c.Attempts = make(map[Step]int, len(s.Attempts))
	for k, v := range s.Attempts {
		c.Attempts[k] = v
	}
	return c
}

// SessionRecord is what the durable repository keeps for a session.
type SessionRecord struct {
	ID        string          `json:"id"`
	State     Step            `json:"state"`
	Answers   map[Step]string `json:"answers"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Subcategory string

const (
	SubGreeting          Subcategory = "greeting"
	SubPrompt            Subcategory = "prompt"
	SubAcknowledgment    Subcategory = "acknowledgment"
	SubClarify           Subcategory = "clarify"
	SubOfferChoice       Subcategory = "offer_choice"
	SubTransitionUnclear Subcategory = "transition_unclear"
	SubTransitionSkipped Subcategory = "transition_skipped"
	SubCrisis            Subcategory = "crisis"
	SubOpen              Subcategory = "open"
)

// ReplySelector names the category of reply the router wants; text comes from a selector.
type ReplySelector struct {
	Step        Step        `json:"step"`
	Subcategory Subcategory `json:"subcategory"`
	NextStep    Step        `json:"next_step,omitempty"`
	SessionID   string      `json:"session_id"`
	Sentiment   Label       `json:"sentiment,omitempty"`
}

type Decision string

const (
	DecisionAdvance      Decision = "advance"
	DecisionClarify      Decision = "clarify"
	DecisionOfferChoice  Decision = "offer_choice"
	DecisionForceAdvance Decision = "force_advance"
	DecisionEscalate     Decision = "escalate"
	DecisionDelegate     Decision = "delegate"
)

type Debug struct {
	RiskDetected    bool                            `json:"risk_detected"`
	Classifications map[string]ClassificationResult `json:"classification_results"`
	Decision        Decision                        `json:"decision"`
	AttemptCount    int                             `json:"attempt_count"`
	ProcessingTime  time.Duration                   `json:"processing_time"`
}

type RouteResult struct {
	Reply     ReplySelector `json:"reply_selector"`
	ReplyText string        `json:"reply"`
	NewState  Step          `json:"new_state"`
	Debug     Debug         `json:"debug"`
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	State     Step   `json:"state"`
	Debug     *Debug `json:"debug,omitempty"`
}

type SessionView struct {
	ID        string          `json:"id"`
	State     Step            `json:"state"`
	Answers   map[Step]string `json:"answers"`
	Attempts  map[Step]int    `json:"attempts,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Analytics event types.
const (
	EventRiskDetected      = "risk_detected"
	EventRiskCheckDegraded = "risk_check_degraded"
	EventIntentClassified  = "intent_classified"
	EventStepAdvanced      = "step_advanced"
	EventForceAdvanced     = "force_advanced"
	EventConversationTurn  = "conversation_turn"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}
