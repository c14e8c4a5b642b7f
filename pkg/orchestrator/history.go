package orchestrator

import (
	"sync"
	"time"
)

// ConversationTurn is one {role, content, timestamp} entry of session
// history.
type ConversationTurn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// History is a bounded ring of ConversationTurn entries: at most
// 2 x max_history_turns per session, passed to the LLM as context on
// every turn.
type History struct {
	mu       sync.Mutex
	turns    []ConversationTurn
	maxTurns int
}

// NewHistory builds a History capped at 2*maxHistoryTurns entries. A
// non-positive maxHistoryTurns disables history (every Snapshot is empty),
// matching llm.history_enabled=false.
func NewHistory(maxHistoryTurns int) *History {
	cap := maxHistoryTurns * 2
	if cap < 0 {
		cap = 0
	}
	return &History{maxTurns: cap}
}

// Add appends one turn, evicting the oldest entries once maxTurns is
// exceeded.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxTurns == 0 {
		return
	}
	h.turns = append(h.turns, ConversationTurn{Role: role, Content: content, Timestamp: time.Now()})
	if len(h.turns) > h.maxTurns {
		h.turns = h.turns[len(h.turns)-h.maxTurns:]
	}
}

// Reset clears history, called at the start of every session.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// Snapshot returns the current turns as Messages for LLMProvider.GenerateStream's
// history argument.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.turns))
	for i, t := range h.turns {
		out[i] = Message{Role: t.Role, Content: t.Content}
	}
	return out
}
