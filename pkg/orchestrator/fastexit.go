package orchestrator

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/fuzzy"
)

// FastExitState is the {pending, reason, armed_at} tuple: a
// process-lifetime singleton scoped to the orchestrator, reset at the
// start of every session.
type FastExitState struct {
	Pending bool
	Reason  string
	ArmedAt int64 // monotonic ms, via time.Now().UnixMilli() at set time
}

// FastExitArbiter is a cross-thread pending flag set by either a
// stop-phrase match in an ASR transcript (guarded against the bot
// hearing its own TTS output) or a stop-hotword detection in exit mode,
// inspected at every boundary between the LLM-stream producer and the
// TTS consumer.
type FastExitArbiter struct {
	mu          sync.Mutex
	state       FastExitState
	stopPhrases []string
	threshold   int
}

// NewFastExitArbiter builds an arbiter over the configured stop phrases.
// threshold is the fuzzy partial-ratio cutoff for matching a transcript
// against a stop phrase; 80 suits short imperative phrases like "stop"
// or "that's enough", slightly looser than the anti-echo guard's 85.
func NewFastExitArbiter(stopPhrases []string, threshold int) *FastExitArbiter {
	if threshold <= 0 {
		threshold = 80
	}
	return &FastExitArbiter{stopPhrases: stopPhrases, threshold: threshold}
}

// Reset clears pending state; called once per session start.
func (a *FastExitArbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = FastExitState{}
}

// Pending reports the current fast-exit state, read by the shaped-token
// tee, the TTS wait loop, and before each utterance capture.
func (a *FastExitArbiter) Pending() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Pending, a.state.Reason
}

func (a *FastExitArbiter) set(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Pending {
		return
	}
	a.state = FastExitState{Pending: true, Reason: reason, ArmedAt: time.Now().UnixMilli()}
}

// CheckTranscript applies the anti-echo guard (both sides normalized
// length > 8, partial-ratio >= 85 against lastBotReply means discard)
// and, if the transcript survives, fuzzy-matches it against the
// configured stop phrases. Matching phrases are treated as the
// "goodbye"/session-ending reason; callers distinguish exit-worthy
// stops from plain barge-in cancellation via IsSessionEnding.
func (a *FastExitArbiter) CheckTranscript(transcript, lastBotReply string) bool {
	if transcript == "" {
		return false
	}
	if fuzzy.IsEcho(transcript, lastBotReply) {
		return false
	}
	if _, ok := fuzzy.MatchesAny(transcript, a.stopPhrases, a.threshold); ok {
		a.set("goodbye")
		return true
	}
	return false
}

// TriggerStopHotword sets fast-exit pending from a stop-hotword
// detection in exit mode; mode==barge is handled by the barge-in path
// instead and never calls this.
func (a *FastExitArbiter) TriggerStopHotword(label string) {
	a.set("stop_hotword:" + label)
}

// TriggerSignal sets fast-exit pending from an explicit external
// signal, e.g. a caught interrupt.
func (a *FastExitArbiter) TriggerSignal(reason string) {
	a.set(reason)
}

// IsSessionEnding reports whether the current pending reason should end
// the session outright (goodbye phrase, stop-hotword in exit mode) as
// opposed to merely cancelling the in-flight turn.
func (a *FastExitArbiter) IsSessionEnding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Pending {
		return false
	}
	return a.state.Reason == "goodbye" || startsWithStopHotword(a.state.Reason)
}

func startsWithStopHotword(reason string) bool {
	return len(reason) >= len("stop_hotword:") && reason[:len("stop_hotword:")] == "stop_hotword:"
}
