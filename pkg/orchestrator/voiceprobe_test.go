package orchestrator

import "testing"

func TestRMSDbfsEmptyFrameIsFloor(t *testing.T) {
	p := NewVoiceProbe(16000)
	if got := p.RMSDbfs(nil); got != -120.0 {
		t.Fatalf("expected -120 dBFS floor for empty frame, got %v", got)
	}
}

func TestRMSDbfsLouderIsHigher(t *testing.T) {
	p := NewVoiceProbe(16000)
	quiet := []int16{100, -100, 100, -100}
	loud := []int16{20000, -20000, 20000, -20000}
	if p.RMSDbfs(loud) <= p.RMSDbfs(quiet) {
		t.Fatalf("expected louder frame to report higher dBFS")
	}
}

func TestZeroCrossingRateOfConstantIsZero(t *testing.T) {
	p := NewVoiceProbe(16000)
	frame := make([]int16, 100)
	for i := range frame {
		frame[i] = 1000
	}
	if zcr := p.ZeroCrossingRate(frame); zcr != 0 {
		t.Fatalf("expected 0 crossings for constant signal, got %v", zcr)
	}
}

func TestZeroCrossingRateOfAlternatingIsMax(t *testing.T) {
	p := NewVoiceProbe(16000)
	frame := make([]int16, 100)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 1000
		} else {
			frame[i] = -1000
		}
	}
	// Every sample flips sign: N-1 steps of |Δsign| = 2, so the rate reaches
	// its maximum of 1.0.
	if zcr := p.ZeroCrossingRate(frame); zcr < 0.45 {
		t.Fatalf("expected near-max crossing rate for alternating signal, got %v", zcr)
	}
}

func TestHighpassPreservesLength(t *testing.T) {
	p := NewVoiceProbe(16000)
	frame := []int16{100, 200, 300, -100, -200}
	out := p.Highpass(frame, 300)
	if len(out) != len(frame) {
		t.Fatalf("expected Highpass to preserve frame length, got %d want %d", len(out), len(frame))
	}
}
