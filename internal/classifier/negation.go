package classifier

var negationCues = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"nothing": true,
	"cannot":  true,
	"nobody":  true,
	"none":    true,
	"nah":     true,
	"nope":    true,
}

// negationWindow is how many words before a match a cue may sit.
const negationWindow = 3

// negatedAt reports whether a negation cue precedes tokens[idx] within the window.
func negatedAt(tokens []string, idx int) bool {
	if idx > len(tokens) {
		idx = len(tokens)
	}
	for i := idx - 1; i >= 0 && i >= idx-negationWindow; i-- {
		if negationCues[tokens[i]] {
			return true
		}
	}
	return false
}
