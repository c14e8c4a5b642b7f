// Package fuzzy implements windowed partial-ratio string similarity over
// github.com/agnivade/levenshtein's edit-distance primitive, used for
// wake-phrase matching and the anti-echo guard.
package fuzzy

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Normalize lower-cases a transcript and collapses punctuation and
// whitespace runs into single spaces before comparison.
func Normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ratio returns a 0-100 similarity score between two strings derived from
// normalized Levenshtein distance (100 = identical).
func ratio(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	score := 100 - (dist*100)/maxLen
	if score < 0 {
		score = 0
	}
	return score
}

// PartialRatio approximates rapidfuzz's fuzz.partial_ratio: it slides the
// shorter string as a window across the longer one and returns the best
// ratio found, so a short phrase fully contained in a longer transcript
// still scores near 100.
func PartialRatio(a, b string) int {
	a = Normalize(a)
	b = Normalize(b)
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}

	if len(shorter) >= len(longer) {
		return ratio(shorter, longer)
	}

	best := 0
	windowLen := len(shorter)
	for start := 0; start+windowLen <= len(longer); start++ {
		window := longer[start : start+windowLen]
		if r := ratio(shorter, window); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// MatchesAny reports whether candidate fuzzy-matches any of phrases at or
// above threshold, and returns the first matching phrase.
func MatchesAny(candidate string, phrases []string, threshold int) (string, bool) {
	for _, p := range phrases {
		if PartialRatio(candidate, p) >= threshold {
			return p, true
		}
	}
	return "", false
}

// IsEcho reports whether a transcript is just the bot's own last reply
// leaking back through the mic: both sides, after normalization, exceed
// 8 characters and their partial-ratio similarity is at least 85.
func IsEcho(transcript, lastBotReply string) bool {
	nt := Normalize(transcript)
	nr := Normalize(lastBotReply)
	if len(nt) <= 8 || len(nr) <= 8 {
		return false
	}
	return PartialRatio(nt, nr) >= 85
}
