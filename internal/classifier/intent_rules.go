package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"yarn-agent/model"
	"yarn-agent/utils"
)

//go:embed rules/intent.yaml
var defaultIntentRules []byte

const (
	scoreStrong  = 0.8
	scorePattern = 0.3
	scoreKeyword = 0.2
	scoreFuzzy   = 0.15
	scoreExact   = 0.5

	// Below this the rule engine has no opinion.
	minRuleScore = 0.2
	// Single-word keywords shorter than this are never fuzzy matched.
	minFuzzyLen     = 5
	fuzzySimilarity = 0.8
)

type intentRuleFile struct {
	Intents []intentRuleSpec `yaml:"intents"`
}

type intentRuleSpec struct {
	Label    model.Label `yaml:"label"`
	Negated  model.Label `yaml:"negated"`
	Keywords []string    `yaml:"keywords"`
	Patterns []string    `yaml:"patterns"`
	Strong   []string    `yaml:"strong"`
}

type intentRule struct {
	label    model.Label
	negated  model.Label
	keywords []string
	patterns []*regexp.Regexp
	strong   []*regexp.Regexp
}

var (
	reGoodAt    = regexp.MustCompile(`\bi am\s+(good at|great at)\b`)
	reNoLetters = regexp.MustCompile(`^[^a-z]*$`)
)

// IntentRules is the keyword and regex intent engine.
type IntentRules struct {
	rules []intentRule
}

// NewIntentRules compiles a rule pack. A nil pack loads the built-in rules.
func NewIntentRules(pack []byte) (*IntentRules, error) {
	if pack == nil {
		pack = defaultIntentRules
	}
	var f intentRuleFile
	if err := yaml.Unmarshal(pack, &f); err != nil {
		return nil, fmt.Errorf("parse intent rules: %w", err)
	}
	if len(f.Intents) == 0 {
		return nil, fmt.Errorf("parse intent rules: no intents defined")
	}

	r := &IntentRules{rules: make([]intentRule, 0, len(f.Intents))}
	for _, spec := range f.Intents {
		rule := intentRule{label: spec.Label, negated: spec.Negated}
		for _, k := range spec.Keywords {
			rule.keywords = append(rule.keywords, strings.ToLower(k))
		}
		var err error
		if rule.patterns, err = compileAll(spec.Patterns); err != nil {
			return nil, fmt.Errorf("intent %s: %w", spec.Label, err)
		}
		if rule.strong, err = compileAll(spec.Strong); err != nil {
			return nil, fmt.Errorf("intent %s: %w", spec.Label, err)
		}
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (r *IntentRules) Name() string { return "rules" }

func (r *IntentRules) Infer(_ context.Context, text string, _ Hint) (*Prediction, error) {
	scores := r.Score(text)

	best, conf := model.LabelUnclear, 0.0
	for l, s := range scores {
		if s > conf || (s == conf && l < best) {
			best, conf = l, s
		}
	}
	if conf < minRuleScore {
		return &Prediction{Label: model.LabelUnclear, Confidence: conf}, nil
	}
	return &Prediction{Label: best, Confidence: conf, Scores: scores}, nil
}

// Score returns the raw per-label scores for text, before any context boost.
func (r *IntentRules) Score(text string) map[model.Label]float64 {
	s := utils.Preprocess(text)
	if reNoLetters.MatchString(s) {
		return map[model.Label]float64{}
	}
	tokens := utils.Tokens(s)
	short := len(tokens) <= 3
	trimmed := strings.Trim(s, " .!?,")

	scores := make(map[model.Label]float64)
	credit := func(rule intentRule, offset int, v float64) {
		if rule.negated != "" && offset >= 0 && negatedAt(tokens, utils.TokenIndex(s, offset)) {
			scores[rule.negated] += v
			return
		}
		scores[rule.label] += v
	}

	for _, rule := range r.rules {
		for _, re := range rule.strong {
			if loc := re.FindStringIndex(s); loc != nil {
				credit(rule, loc[0], scoreStrong)
			}
		}
		for _, kw := range rule.keywords {
			if i := utils.PhraseIndex(s, kw); i >= 0 {
				credit(rule, i, scoreKeyword)
			} else if i := fuzzyIndex(s, tokens, kw); i >= 0 {
				credit(rule, i, scoreFuzzy)
			}
		}
		for _, re := range rule.patterns {
			if loc := re.FindStringIndex(s); loc != nil {
				credit(rule, loc[0], scorePattern)
			}
		}
		if short {
			for _, kw := range rule.keywords {
				if trimmed == kw {
					scores[rule.label] += scoreExact
				}
			}
		}
	}

	// "I'm good at helping people" is a strength, not support.
	if scores[model.LabelStrengths] >= 0.6 && reGoodAt.MatchString(s) {
		scores[model.LabelStrengths] += 0.2
	}
	if strings.Contains(s, "helping") && strings.Contains(s, "good at") && scores[model.LabelStrengths] > 0 {
		scores[model.LabelStrengths] += 0.3
		scores[model.LabelSupportPeople] -= 0.2
	}

	for l, v := range scores {
		switch {
		case v <= 0:
			delete(scores, l)
		case v > 1:
			scores[l] = 1
		}
	}
	return scores
}

// fuzzyIndex finds a token close to a single-word keyword and returns its byte offset.
func fuzzyIndex(s string, tokens []string, kw string) int {
	if strings.ContainsRune(kw, ' ') || len(kw) < minFuzzyLen {
		return -1
	}
	for _, tok := range tokens {
		if len(tok) < minFuzzyLen-1 || tok == kw {
			continue
		}
		if similarity(tok, kw) >= fuzzySimilarity {
			return utils.PhraseIndex(s, tok)
		}
	}
	return -1
}
