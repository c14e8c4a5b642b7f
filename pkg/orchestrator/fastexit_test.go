package orchestrator

import "testing"

func TestFastExitResetIsIdempotent(t *testing.T) {
	a := NewFastExitArbiter([]string{"stop"}, 80)
	a.TriggerSignal("manual")
	a.Reset()
	a.Reset()
	if pending, reason := a.Pending(); pending || reason != "" {
		t.Fatalf("expected clean state after repeated Reset, got pending=%v reason=%q", pending, reason)
	}
}

func TestFastExitStopPhraseMatch(t *testing.T) {
	a := NewFastExitArbiter([]string{"goodbye robot"}, 80)
	if !a.CheckTranscript("okay goodbye robot see you", "") {
		t.Fatalf("expected stop phrase to be detected")
	}
	if pending, reason := a.Pending(); !pending || reason != "goodbye" {
		t.Fatalf("expected pending goodbye, got pending=%v reason=%q", pending, reason)
	}
}

func TestFastExitAntiEchoNeverTriggers(t *testing.T) {
	a := NewFastExitArbiter([]string{"goodbye robot"}, 80)
	lastBotReply := "I think it is time to say goodbye robot to everyone in the room"
	// transcript is effectively an echo of the bot's own reply.
	if a.CheckTranscript(lastBotReply, lastBotReply) {
		t.Fatalf("anti-echo guard should have discarded the transcript, not triggered fast-exit")
	}
	if pending, _ := a.Pending(); pending {
		t.Fatalf("fast-exit must not be pending after an echoed transcript")
	}
}

func TestFastExitSetIsStickyToFirstReason(t *testing.T) {
	a := NewFastExitArbiter(nil, 80)
	a.TriggerSignal("first")
	a.TriggerSignal("second")
	if _, reason := a.Pending(); reason != "first" {
		t.Fatalf("expected first reason to stick, got %q", reason)
	}
}

func TestFastExitIsSessionEnding(t *testing.T) {
	a := NewFastExitArbiter(nil, 80)
	a.TriggerStopHotword("stop")
	if !a.IsSessionEnding() {
		t.Fatalf("stop_hotword reason should end the session")
	}

	b := NewFastExitArbiter(nil, 80)
	b.TriggerSignal("barge_in")
	if b.IsSessionEnding() {
		t.Fatalf("a plain barge_in signal should not end the session")
	}
}
