package classifier

import (
	"context"
	"math"
	"strings"

	"yarn-agent/model"
	"yarn-agent/utils"
)

var positiveWords = map[string]bool{
	"good": true, "great": true, "happy": true, "love": true, "excited": true,
	"awesome": true, "wonderful": true, "amazing": true, "fantastic": true,
	"excellent": true, "deadly": true, "stoked": true, "lit": true, "sweet": true,
}

var negativeWords = map[string]bool{
	"bad": true, "sad": true, "worried": true, "stressed": true, "angry": true,
	"hate": true, "terrible": true, "awful": true, "horrible": true, "upset": true,
	"shame": true, "crook": true, "cooked": true, "mid": true,
}

// sentimentNegationWindow allows one filler word between cue and keyword ("not very good").
const sentimentNegationWindow = 2

const (
	sentimentPerHit   = 0.3
	neutralConfidence = 0.5
)

// SentimentRules is a keyword sentiment scorer with negation flipping.
type SentimentRules struct{}

func NewSentimentRules() *SentimentRules { return &SentimentRules{} }

func (SentimentRules) Name() string { return "rules" }

func (SentimentRules) Infer(_ context.Context, text string, _ Hint) (*Prediction, error) {
	// Community slang such as "deadly" is a keyword here, so skip the term mapping.
	tokens := utils.Tokens(utils.ExpandContractions(utils.NormalizeString(text)))

	var pos, neg int
	for i, tok := range tokens {
		isPos, isNeg := positiveWords[tok], negativeWords[tok]
		if !isPos && !isNeg {
			continue
		}
		if negatedWithin(tokens, i, sentimentNegationWindow) {
			isPos, isNeg = isNeg, isPos
		}
		if isPos {
			pos++
		} else {
			neg++
		}
	}

	switch {
	case pos > neg:
		return &Prediction{Label: model.LabelPositive, Confidence: math.Min(float64(pos)*sentimentPerHit, 1)}, nil
	case neg > pos:
		return &Prediction{Label: model.LabelNegative, Confidence: math.Min(float64(neg)*sentimentPerHit, 1)}, nil
	}
	return &Prediction{Label: model.LabelNeutral, Confidence: neutralConfidence}, nil
}

func negatedWithin(tokens []string, idx, window int) bool {
	for i := idx - 1; i >= 0 && i >= idx-window; i-- {
		if tokens[i] == "not" || tokens[i] == "no" || tokens[i] == "never" || strings.HasSuffix(tokens[i], "n't") {
			return true
		}
	}
	return false
}
