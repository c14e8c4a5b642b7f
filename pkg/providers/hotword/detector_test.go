package hotword

import (
	"errors"
	"testing"
)

// stubDetector records the frames it receives and returns a scripted
// result per call.
type stubDetector struct {
	frameLen int
	hits     []int
	errs     []error
	calls    int
	received [][]int16
}

func (s *stubDetector) SampleRate() int    { return 16000 }
func (s *stubDetector) FrameLength() int   { return s.frameLen }
func (s *stubDetector) Keywords() []string { return []string{"stop"} }
func (s *stubDetector) Name() string       { return "stub" }

func (s *stubDetector) Process(frame []int16) (int, error) {
	cp := make([]int16, len(frame))
	copy(cp, frame)
	s.received = append(s.received, cp)
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	hit := -1
	if i < len(s.hits) {
		hit = s.hits[i]
	}
	return hit, err
}

func TestWatcherResizesFrameToDetectorLength(t *testing.T) {
	d := &stubDetector{frameLen: 320}
	w := NewWatcher(d, nil, nil)

	if _, err := w.Process(make([]int16, 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(d.received[0]); got != 320 {
		t.Fatalf("short frame not padded: got %d samples", got)
	}

	if _, err := w.Process(make([]int16, 500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(d.received[1]); got != 320 {
		t.Fatalf("long frame not truncated: got %d samples", got)
	}
}

func TestWatcherCircuitOpensAfterThreeConsecutiveFailures(t *testing.T) {
	boom := errors.New("native engine crashed")
	d := &stubDetector{frameLen: 4, errs: []error{boom, boom, boom}}
	w := NewWatcher(d, nil, nil)

	frame := make([]int16, 4)
	for i := 0; i < 3; i++ {
		if w.CircuitOpen() {
			t.Fatalf("circuit opened after only %d failures", i)
		}
		if _, err := w.Process(frame); err == nil {
			t.Fatalf("expected detector error on call %d", i)
		}
	}

	if !w.CircuitOpen() {
		t.Fatalf("circuit must be open after three consecutive failures")
	}

	// Once open, the native detector is never touched again.
	callsBefore := d.calls
	idx, err := w.Process(frame)
	if err != nil || idx != -1 {
		t.Fatalf("open circuit must report (-1, nil), got (%d, %v)", idx, err)
	}
	if d.calls != callsBefore {
		t.Fatalf("open circuit still invoked the native detector")
	}
}

func TestWatcherSuccessResetsFailureCount(t *testing.T) {
	boom := errors.New("transient")
	d := &stubDetector{frameLen: 4, errs: []error{boom, boom, nil, boom, boom}, hits: []int{-1, -1, -1, -1, -1}}
	w := NewWatcher(d, nil, nil)

	frame := make([]int16, 4)
	for i := 0; i < 5; i++ {
		w.Process(frame)
	}
	if w.CircuitOpen() {
		t.Fatalf("two failures, a success, then two failures must not open the circuit")
	}
}

func TestWatcherWithoutDetectorReportsCircuitOpen(t *testing.T) {
	w := NewWatcher(nil, NewASRFallback([]string{"hello robot"}, 0), nil)
	if !w.CircuitOpen() {
		t.Fatalf("a watcher with no native detector is permanently in fallback")
	}
	if idx, err := w.Process(make([]int16, 4)); idx != -1 || err != nil {
		t.Fatalf("expected (-1, nil) with no detector, got (%d, %v)", idx, err)
	}
}

func TestASRFallbackMatch(t *testing.T) {
	f := NewASRFallback([]string{"hello robot", "salut robot"}, 0)

	if phrase, ok := f.Match("um hello robot please"); !ok || phrase != "hello robot" {
		t.Fatalf("expected contained wake phrase to match, got (%q, %v)", phrase, ok)
	}
	if _, ok := f.Match("completely unrelated chatter"); ok {
		t.Fatalf("unrelated transcript must not match")
	}
}
