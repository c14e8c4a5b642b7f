package hotword

import "github.com/lokutor-ai/lokutor-orchestrator/internal/fuzzy"

// ASRFallback is the wake path used when hotword prerequisites are
// missing or the circuit breaker has tripped: fuzzy-matching short
// transcribed windows against a configured phrase list. Stateless and
// cheap; the sticky part of the policy (never switching back) lives in
// Watcher.circuitOpen.
type ASRFallback struct {
	phrases   []string
	threshold int
}

// NewASRFallback builds a fallback matcher over the configured wake
// phrases. threshold defaults to 85, the same partial-ratio scale the
// anti-echo guard uses.
func NewASRFallback(phrases []string, threshold int) *ASRFallback {
	if threshold <= 0 {
		threshold = 85
	}
	return &ASRFallback{phrases: phrases, threshold: threshold}
}

// Match returns the matched phrase and true if transcript fuzzy-matches
// any configured wake phrase above threshold.
func (f *ASRFallback) Match(transcript string) (string, bool) {
	return fuzzy.MatchesAny(transcript, f.phrases, f.threshold)
}
