package voice

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/echo-voice/echo/internal/event"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for the fuzzy step.
const fuzzyThreshold = 0.6

// MatchResult is the outcome of matching a transcript against the options of
// a blocked prompt.
type MatchResult struct {
	Text       string
	Confidence float64
	Method     event.MatchMethod
}

// ordinalTable maps spoken position words and digits to option indices.
var ordinalTable = map[string]int{
	"one": 0, "first": 0, "1": 0,
	"two": 1, "second": 1, "2": 1,
	"three": 2, "third": 2, "3": 2,
	"four": 3, "fourth": 3, "4": 3,
	"five": 4, "fifth": 4, "5": 4,
	"six": 5, "sixth": 5, "6": 5,
	"seven": 6, "seventh": 6, "7": 6,
	"eight": 7, "eighth": 7, "8": 7,
	"nine": 8, "ninth": 8, "9": 8,
	"ten": 9, "tenth": 9, "10": 9,
}

// fillerWords are dropped before the ordinal lookup so "pick option three"
// resolves the same as "three".
var fillerWords = map[string]struct{}{
	"option": {}, "the": {}, "number": {}, "pick": {},
}

var affirmatives = []string{"yes", "yeah", "yep", "sure", "allow", "go ahead"}

var negatives = []string{"no", "nah", "nope", "deny", "reject"}

// Match resolves a transcript to an option. Pure: same inputs, same result.
//
// The chain runs ordinal, yes/no (two-option permission prompts only),
// direct substring, then fuzzy similarity. With no options the transcript
// passes through verbatim at full confidence; with options but no match it
// falls through verbatim at zero confidence, which callers treat as a
// no-dispatch sentinel.
func Match(transcript string, options []string, reason event.BlockReason) MatchResult {
	verbatim := strings.TrimSpace(transcript)
	if len(options) == 0 {
		return MatchResult{Text: verbatim, Confidence: 1.0, Method: event.MatchVerbatim}
	}

	norm := normalize(transcript)

	if idx, ok := ordinal(norm); ok && idx < len(options) {
		return MatchResult{Text: options[idx], Confidence: 0.95, Method: event.MatchOrdinal}
	}

	if len(options) == 2 && reason == event.BlockPermissionPrompt {
		if phraseMatch(norm, affirmatives) {
			return MatchResult{Text: options[0], Confidence: 0.9, Method: event.MatchYesNo}
		}
		if phraseMatch(norm, negatives) {
			return MatchResult{Text: options[1], Confidence: 0.9, Method: event.MatchYesNo}
		}
	}

	// Direct: longest option contained in the transcript wins.
	best := -1
	for i, opt := range options {
		lowered := normalize(opt)
		if lowered == "" || !strings.Contains(norm, lowered) {
			continue
		}
		if best < 0 || len(opt) > len(options[best]) {
			best = i
		}
	}
	if best >= 0 {
		return MatchResult{Text: options[best], Confidence: 0.85, Method: event.MatchDirect}
	}

	// Fuzzy: closest option by Jaro-Winkler similarity.
	bestRatio := 0.0
	best = -1
	for i, opt := range options {
		ratio := matchr.JaroWinkler(norm, normalize(opt), false)
		if ratio > bestRatio {
			bestRatio = ratio
			best = i
		}
	}
	if best >= 0 && bestRatio >= fuzzyThreshold {
		return MatchResult{Text: options[best], Confidence: bestRatio, Method: event.MatchFuzzy}
	}

	return MatchResult{Text: verbatim, Confidence: 0.0, Method: event.MatchVerbatim}
}

// ordinal resolves a normalized transcript like "pick option three" to an
// option index. The lookup requires exactly one token left after dropping
// filler words.
func ordinal(norm string) (int, bool) {
	var kept []string
	for _, word := range strings.Fields(norm) {
		if _, filler := fillerWords[word]; filler {
			continue
		}
		kept = append(kept, word)
	}
	if len(kept) != 1 {
		return 0, false
	}
	idx, ok := ordinalTable[kept[0]]
	return idx, ok
}

// phraseMatch reports whether the transcript is, or starts with, one of the
// given phrases ("yes please" counts as "yes").
func phraseMatch(norm string, phrases []string) bool {
	for _, p := range phrases {
		if norm == p || strings.HasPrefix(norm, p+" ") {
			return true
		}
	}
	return false
}

// normalize lowercases, strips everything but letters and digits, and
// collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
