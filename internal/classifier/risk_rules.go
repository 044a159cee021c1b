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

//go:embed rules/risk.yaml
var defaultRiskRules []byte

// Sub-methods reported in Prediction.Method.
const (
	RiskAllowList       = "allow_list"
	RiskExactPhrase     = "exact_phrase"
	RiskFuzzyPhrase     = "fuzzy_phrase"
	RiskCriticalContext = "critical_context"
	RiskNoMatch         = "no_match"
)

const (
	confExact    = 0.95
	confFuzzy    = 0.8
	confCritical = 0.75
	confAllowed  = 0.9
	// A clean rule pass is not proof of safety, so it stays under the risk threshold.
	confNoMatch = 0.3

	riskFuzzySimilarity = 0.85
	minFuzzyPhraseLen   = 6
)

type riskRuleFile struct {
	Allow         []string `yaml:"allow"`
	Phrases       []string `yaml:"phrases"`
	ExactOnly     []string `yaml:"exact_only"`
	WeakTokens    []string `yaml:"weak_tokens"`
	Danger        []string `yaml:"danger"`
	GuardWindow   int      `yaml:"guard_window"`
	Critical      []string `yaml:"critical"`
	BenignNext    []string `yaml:"benign_next"`
	Self          []string `yaml:"self"`
	Intent        []string `yaml:"intent"`
	ThirdParty    []string `yaml:"third_party"`
	ContextWindow int      `yaml:"context_window"`
}

// RiskRules detects self-harm language with phrase, fuzzy and context rules.
type RiskRules struct {
	allow         []*regexp.Regexp
	phrases       []string
	exactOnly     []string
	weak          map[string]bool
	danger        map[string]bool
	guardWindow   int
	critical      map[string]bool
	benignNext    map[string]bool
	self          map[string]bool
	intent        map[string]bool
	thirdParty    map[string]bool
	contextWindow int
}

// NewRiskRules compiles a risk rule pack. A nil pack loads the built-in rules.
func NewRiskRules(pack []byte) (*RiskRules, error) {
	if pack == nil {
		pack = defaultRiskRules
	}
	var f riskRuleFile
	if err := yaml.Unmarshal(pack, &f); err != nil {
		return nil, fmt.Errorf("parse risk rules: %w", err)
	}
	if len(f.Phrases) == 0 {
		return nil, fmt.Errorf("parse risk rules: no phrases defined")
	}
	allow, err := compileAll(f.Allow)
	if err != nil {
		return nil, fmt.Errorf("risk allow list: %w", err)
	}
	r := &RiskRules{
		allow:         allow,
		weak:          toSet(f.WeakTokens),
		danger:        toSet(f.Danger),
		guardWindow:   f.GuardWindow,
		critical:      toSet(f.Critical),
		benignNext:    toSet(f.BenignNext),
		self:          toSet(f.Self),
		intent:        toSet(f.Intent),
		thirdParty:    toSet(f.ThirdParty),
		contextWindow: f.ContextWindow,
	}
	for _, p := range f.Phrases {
		r.phrases = append(r.phrases, utils.NormalizeString(p))
	}
	for _, p := range f.ExactOnly {
		r.exactOnly = append(r.exactOnly, utils.NormalizeString(p))
	}
	if r.guardWindow <= 0 {
		r.guardWindow = 3
	}
	if r.contextWindow <= 0 {
		r.contextWindow = 4
	}
	return r, nil
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
	}
	return m
}

func (r *RiskRules) Name() string { return "rules" }

func (r *RiskRules) Infer(_ context.Context, text string, _ Hint) (*Prediction, error) {
	s := utils.ExpandContractions(utils.NormalizeString(text))
	tokens := utils.Tokens(s)

	exact := r.exactPhrase(s)
	// An allow-listed message is safe unless it also carries a curated phrase verbatim.
	if !exact && r.allowed(s) {
		return r.pred(model.LabelNoRisk, confAllowed, RiskAllowList), nil
	}
	if exact {
		return r.pred(model.LabelRisk, confExact, RiskExactPhrase), nil
	}
	if r.fuzzyPhrase(tokens) {
		return r.pred(model.LabelRisk, confFuzzy, RiskFuzzyPhrase), nil
	}
	if r.criticalInContext(tokens) {
		return r.pred(model.LabelRisk, confCritical, RiskCriticalContext), nil
	}
	return r.pred(model.LabelNoRisk, confNoMatch, RiskNoMatch), nil
}

func (r *RiskRules) pred(label model.Label, conf float64, method string) *Prediction {
	return &Prediction{Label: label, Confidence: conf, Method: method}
}

func (r *RiskRules) allowed(s string) bool {
	s = strings.TrimSpace(s)
	for _, re := range r.allow {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (r *RiskRules) exactPhrase(s string) bool {
	for _, list := range [][]string{r.phrases, r.exactOnly} {
		for _, p := range list {
			if utils.ContainsPhrase(s, p) {
				return true
			}
		}
	}
	return false
}

// fuzzyPhrase slides a window the size of each phrase over the tokens and
// compares by edit distance.
func (r *RiskRules) fuzzyPhrase(tokens []string) bool {
	for _, p := range r.phrases {
		if len(p) < minFuzzyPhraseLen {
			continue
		}
		n := len(strings.Fields(p))
		for i := 0; i+n <= len(tokens); i++ {
			window := tokens[i : i+n]
			if similarity(strings.Join(window, " "), p) < riskFuzzySimilarity {
				continue
			}
			if r.hasWeak(window) && !r.dangerNear(tokens, i, i+n) {
				continue
			}
			return true
		}
	}
	return false
}

func (r *RiskRules) hasWeak(window []string) bool {
	for _, t := range window {
		if r.weak[t] {
			return true
		}
	}
	return false
}

// dangerNear looks for an exact danger word in [start-guard, end+guard).
func (r *RiskRules) dangerNear(tokens []string, start, end int) bool {
	lo, hi := start-r.guardWindow, end+r.guardWindow
	if lo < 0 {
		lo = 0
	}
	if hi > len(tokens) {
		hi = len(tokens)
	}
	for _, t := range tokens[lo:hi] {
		if r.danger[t] {
			return true
		}
	}
	return false
}

// criticalInContext accepts a critical word only when a self reference and an
// intent word sit within the context window and the word is not about someone else.
func (r *RiskRules) criticalInContext(tokens []string) bool {
	for i, t := range tokens {
		if !r.critical[t] {
			continue
		}
		if i+1 < len(tokens) && r.benignNext[tokens[i+1]] {
			continue
		}
		if i > 0 && r.thirdParty[tokens[i-1]] {
			continue
		}
		lo, hi := i-r.contextWindow, i+r.contextWindow+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(tokens) {
			hi = len(tokens)
		}
		var self, intent bool
		for _, w := range tokens[lo:hi] {
			self = self || r.self[w]
			intent = intent || r.intent[w]
		}
		if self && intent {
			return true
		}
	}
	return false
}
