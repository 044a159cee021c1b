package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var contractions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\bi'm\b`), "i am"},
	{regexp.MustCompile(`\bim\b`), "i am"},
	{regexp.MustCompile(`\bcan't\b`), "cannot"},
	{regexp.MustCompile(`\bwon't\b`), "will not"},
	{regexp.MustCompile(`\bdon't\b`), "do not"},
	{regexp.MustCompile(`\bdoesn't\b`), "does not"},
	{regexp.MustCompile(`\bdidn't\b`), "did not"},
	{regexp.MustCompile(`\bisn't\b`), "is not"},
	{regexp.MustCompile(`\bain't\b`), "am not"},
	{regexp.MustCompile(`\bit's\b`), "it is"},
	{regexp.MustCompile(`\bi've\b`), "i have"},
	{regexp.MustCompile(`\bi'd\b`), "i would"},
	{regexp.MustCompile(`\bi'll\b`), "i will"},
	{regexp.MustCompile(`\bthat's\b`), "that is"},
}

// Community terms mapped to the words the classifiers know.
var culturalTerms = map[string]string{
	"mob":     "family",
	"deadly":  "good",
	"yarning": "talking",
	"yarn":    "talk",
	"aunty":   "aunt",
	"nan":     "grandma",
	"pop":     "grandpa",
	"unna":    "right",
}

// NormalizeString lowercases s, unifies curly apostrophes and collapses whitespace.
func NormalizeString(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'", "　", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ExpandContractions rewrites common contractions into their long form.
func ExpandContractions(s string) string {
	for _, c := range contractions {
		s = c.re.ReplaceAllString(s, c.with)
	}
	return s
}

// Preprocess returns the canonical text used by rule-based classifiers.
func Preprocess(s string) string {
	s = ExpandContractions(NormalizeString(s))
	words := strings.Fields(s)
	for i, w := range words {
		core := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' })
		if repl, ok := culturalTerms[core]; ok {
			words[i] = strings.Replace(w, core, repl, 1)
		}
	}
	return strings.Join(words, " ")
}

// Tokens splits normalized text into words, dropping punctuation.
func Tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// reMoveOn matches a whole message that only asks to move on, allowing a few
// filler words around the request. "I want to keep going to school" is an
// answer, not a request.
var reMoveOn = regexp.MustCompile(`^(?:(?:ok|okay|yeah|yep|um|so|can|could|we|just|please|let's|lets|i|want|wanna|to|mate) ){0,4}` +
	`(?:move on|moving on|next question|next one|skip|skip it|skip this|skip that|go on|keep going|carry on|go next|next|pass|continue)` +
	`(?: (?:please|mate|thanks|then|now|for now))?$`)

// IsMoveOn reports whether the user is asking to leave the current question.
func IsMoveOn(input string) bool {
	return reMoveOn.MatchString(strings.Join(Tokens(NormalizeString(input)), " "))
}

// ContainsPhrase reports whether p occurs in s as whole words.
func ContainsPhrase(s, p string) bool {
	return PhraseIndex(s, p) >= 0
}

// PhraseIndex returns the byte offset of the first whole-word occurrence of p in s, or -1.
func PhraseIndex(s, p string) int {
	if p == "" {
		return -1
	}
	for start := 0; start < len(s); {
		i := strings.Index(s[start:], p)
		if i < 0 {
			return -1
		}
		i += start
		end := i + len(p)
		before := i == 0 || !isWordByte(s[i-1])
		after := end == len(s) || !isWordByte(s[end])
		if before && after {
			return i
		}
		start = i + 1
	}
	return -1
}

// TokenIndex converts a byte offset in s into the index of the word containing it.
func TokenIndex(s string, offset int) int {
	if offset > len(s) {
		offset = len(s)
	}
	return len(Tokens(s[:offset]))
}

func isWordByte(b byte) bool {
	return b == '\'' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Min returns the smaller of a and b.
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
