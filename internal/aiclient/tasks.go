package aiclient

import (
	"yarn-agent/model"
)

// Task describes one classification job for remote backends.
type Task struct {
	Name       string
	Candidates []Hypothesis
	// Aliases maps labels a backend may emit onto our label set.
	Aliases map[string]model.Label
	// Field is the JSON key the LLM answers with.
	Field        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
}

func (t Task) normalize(raw string) (model.Label, bool) {
	if l, ok := t.Aliases[raw]; ok {
		return l, true
	}
	for _, c := range t.Candidates {
		if c.Label == raw {
			return model.Label(raw), true
		}
	}
	return "", false
}

var IntentTask = Task{
	Name: "intent",
	Candidates: []Hypothesis{
		{Label: "greeting", Hypotheses: []string{"This is a greeting or hello", "The user is saying hello"}},
		{Label: "question", Hypotheses: []string{"This is a question", "The user is asking something"}},
		{Label: "affirmative", Hypotheses: []string{"The user agrees or says yes", "This is a positive response"}},
		{Label: "negative", Hypotheses: []string{"The user disagrees or says no", "This is a negative response"}},
		{Label: "support_people", Hypotheses: []string{"The user is talking about people who support them", "This mentions family or friends who help"}},
		{Label: "strengths", Hypotheses: []string{"The user is talking about their strengths or abilities", "This mentions things they are good at"}},
		{Label: "worries", Hypotheses: []string{"The user is talking about worries or concerns", "This mentions stress or anxiety"}},
		{Label: "goals", Hypotheses: []string{"The user is talking about goals or aspirations", "This mentions future plans or dreams"}},
		{Label: "no_support", Hypotheses: []string{"The user says they have no support", "The user mentions having nobody to help them"}},
		{Label: "no_strengths", Hypotheses: []string{"The user says they have no strengths", "The user mentions not being good at anything"}},
		{Label: "no_worries", Hypotheses: []string{"The user says they have no worries", "The user mentions not being concerned about anything"}},
		{Label: "no_goals", Hypotheses: []string{"The user says they have no goals", "The user mentions not having plans or dreams"}},
		{Label: "unclear", Hypotheses: []string{"This message is unclear or confusing", "The meaning is ambiguous"}},
	},
	Aliases: map[string]model.Label{
		"affirmative": model.LabelAffirmation,
		"negative":    model.LabelNegation,
	},
	Field: "intent",
	SystemPrompt: `You are an intent classifier for a supportive yarning chatbot.
Classify the user's message into exactly ONE of these categories:

- greeting: User is saying hello or starting conversation
- question: User is asking a question
- affirmative: User agrees, says yes, or confirms
- negative: User disagrees, says no, or denies
- support_people: User mentions people who support them (family, friends, counsellors)
- strengths: User talks about their abilities, skills, or things they're good at
- worries: User mentions concerns, stress, anxiety, or problems
- goals: User talks about aspirations, plans, or things they want to achieve
- no_support: User explicitly says they have no support or nobody to help
- no_strengths: User explicitly says they have no strengths or aren't good at anything
- no_worries: User explicitly says they have no worries or concerns
- no_goals: User explicitly says they have no goals or plans
- unclear: Message is unclear, ambiguous, or doesn't fit other categories

The conversation is currently at step: %s

Respond with JSON only: {"intent": "category_name", "confidence": 0.0-1.0}
No explanations, just the JSON.`,
	UserPrompt:  `Classify this message: "%s"`,
	Temperature: 0.3,
}

var SentimentTask = Task{
	Name: "sentiment",
	Candidates: []Hypothesis{
		{Label: "positive", Hypotheses: []string{"The user feels positive, happy or hopeful"}},
		{Label: "negative", Hypotheses: []string{"The user feels sad, worried, angry or afraid"}},
		{Label: "neutral", Hypotheses: []string{"The message has no clear emotional tone"}},
	},
	Field: "sentiment",
	SystemPrompt: `You are a sentiment analyzer for a supportive yarning chatbot.
Analyze the emotional tone of the user's message.

Classify the sentiment as exactly ONE of:
- positive: Message expresses positive emotions, happiness, hope, gratitude, excitement
- negative: Message expresses negative emotions, sadness, worry, anger, frustration, fear
- neutral: Message is factual, unclear, or has mixed/no clear emotional tone

Cultural expressions matter: "deadly" can mean "good" in Aboriginal English.

The conversation is currently at step: %s

Respond with JSON only: {"sentiment": "positive" OR "negative" OR "neutral", "confidence": 0.0-1.0}
No explanations, just the JSON.`,
	UserPrompt:  `Analyze the sentiment of: "%s"`,
	Temperature: 0.3,
}

var RiskTask = Task{
	Name: "risk",
	Candidates: []Hypothesis{
		{Label: "risk", Hypotheses: []string{"The writer is thinking about suicide or harming themselves"}},
		{Label: "no_risk", Hypotheses: []string{"The writer is not at risk of harming themselves"}},
	},
	Field: "label",
	SystemPrompt: `You screen messages to a youth wellbeing chatbot for suicide or self-harm risk.
Answer "risk" only when the writer expresses intent, plans or wishes to harm or kill themselves.
Talk about other people, idioms and figures of speech are "no_risk".

The conversation is currently at step: %s

Respond with JSON only: {"label": "risk" OR "no_risk", "confidence": 0.0-1.0}
No explanations, just the JSON.`,
	UserPrompt:  `Message: "%s"`,
	Temperature: 0.1,
}
