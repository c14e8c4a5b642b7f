package orchestrator

import (
	"math"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

func sinePCM(freq float64, durationMs, sampleRate int, amp float64) []int16 {
	n := sampleRate * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*t))
	}
	return samples
}

// noisePCM is a deterministic pseudo-random signal, spectrally unlike
// any played tone.
func noisePCM(n int, amp float64) []int16 {
	samples := make([]int16, n)
	x := uint32(1)
	for i := range samples {
		x = x*1664525 + 1013904223
		centered := float64(int32(x>>16&0xFFFF) - 32768)
		samples[i] = int16(centered / 32768.0 * amp * 32767)
	}
	return samples
}

func frameEnergy(frame []int16) float64 {
	sum := 0.0
	for _, s := range frame {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return sum
}

func TestEchoSuppressorDetectsOwnPlayback(t *testing.T) {
	es := NewEchoSuppressor(16000, 1200)
	played := sinePCM(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(audio.Int16ToBytes(played))

	// The tail of what was just played, arriving back through the mic.
	echoFrame := played[len(played)-320:]
	if !es.IsEcho(echoFrame) {
		t.Fatalf("expected the bot's own playback tail to classify as echo")
	}

	// Unrelated audio is the user, not echo.
	userFrame := noisePCM(320, 0.8)
	if es.IsEcho(userFrame) {
		t.Fatalf("unexpected echo classification for unrelated audio")
	}
}

func TestEchoSuppressorHoldWindowExpires(t *testing.T) {
	es := NewEchoSuppressor(16000, 30)
	played := sinePCM(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(audio.Int16ToBytes(played))

	time.Sleep(60 * time.Millisecond)

	echoFrame := played[len(played)-320:]
	if es.IsEcho(echoFrame) {
		t.Fatalf("echo classification must stop once the hold window has expired")
	}
}

func TestRemoveEchoRealtimeMutesMatchedFrame(t *testing.T) {
	es := NewEchoSuppressor(16000, 1200)
	played := sinePCM(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(audio.Int16ToBytes(played))

	echoFrame := played[len(played)-320:]
	cleaned := es.RemoveEchoRealtime(echoFrame)
	if e := frameEnergy(cleaned); e > frameEnergy(echoFrame)*0.01 {
		t.Fatalf("matched frame not muted: energy before=%v after=%v", frameEnergy(echoFrame), e)
	}

	userFrame := noisePCM(320, 0.8)
	passed := es.RemoveEchoRealtime(userFrame)
	if frameEnergy(passed) != frameEnergy(userFrame) {
		t.Fatalf("unrelated frame must pass through unchanged")
	}
}

func TestRemoveEchoRealtimePassthroughWithoutPlayback(t *testing.T) {
	es := NewEchoSuppressor(16000, 1200)
	frame := sinePCM(440, 20, 16000, 0.8)
	if got := es.RemoveEchoRealtime(frame); frameEnergy(got) != frameEnergy(frame) {
		t.Fatalf("frames must pass through untouched when nothing was played")
	}
}

func TestClearEchoBufferStopsDetection(t *testing.T) {
	es := NewEchoSuppressor(16000, 1200)
	played := sinePCM(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(audio.Int16ToBytes(played))
	es.ClearEchoBuffer()

	echoFrame := played[len(played)-320:]
	if es.IsEcho(echoFrame) {
		t.Fatalf("cleared reference buffer must not classify anything as echo")
	}
}
