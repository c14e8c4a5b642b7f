package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// EchoSuppressor mutes mic frames that are really the bot's own playback
// arriving back through the room. It keeps a short rolling buffer of
// recently synthesized audio and compares each captured frame against it
// with a strided normalized cross-correlation, falling back to an
// amplitude-envelope comparison for sibilants whose waveform the room's
// phase shifts scramble. It runs inline on the capture path ahead of the
// BargeInListener, whose dBFS leak baseline then absorbs whatever
// residual bleed survives.
type EchoSuppressor struct {
	mu           sync.Mutex
	ref          []float64 // normalized samples of recently played audio
	maxRef       int
	threshold    float64
	hold         time.Duration
	lastPlayedAt time.Time
}

const echoCorrelationThreshold = 0.55

// NewEchoSuppressor sizes the reference buffer for sampleRate (two
// seconds of playback) and treats captured frames as possible echo for
// holdMs after the last synthesized chunk, the same window the leak
// baseline is allowed to persist without fresh evidence.
func NewEchoSuppressor(sampleRate, holdMs int) *EchoSuppressor {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if holdMs <= 0 {
		holdMs = 1200
	}
	return &EchoSuppressor{
		maxRef:    sampleRate * 2,
		threshold: echoCorrelationThreshold,
		hold:      time.Duration(holdMs) * time.Millisecond,
	}
}

// RecordPlayedAudio appends a just-synthesized PCM chunk (16-bit
// little-endian mono) to the reference buffer, trimming the buffer to
// its bound.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	samples := audio.BytesToInt16(chunk)
	if len(samples) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, s := range samples {
		es.ref = append(es.ref, float64(s)/32768.0)
	}
	if len(es.ref) > es.maxRef {
		es.ref = es.ref[len(es.ref)-es.maxRef:]
	}
	es.lastPlayedAt = time.Now()
}

// ClearEchoBuffer drops the reference buffer, called when playback is
// stopped or a session starts.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.ref = es.ref[:0]
}

// IsEcho reports whether a captured frame is primarily bot playback.
func (es *EchoSuppressor) IsEcho(frame []int16) bool {
	in, ref, ok := es.snapshot(frame)
	if !ok {
		return false
	}
	return matchesReference(in, ref, es.threshold)
}

// RemoveEchoRealtime returns the frame with any span matching recent
// playback muted; a frame with no match comes back unchanged. Muting the
// whole matched span (rather than subtracting a scaled copy) costs a few
// frames of genuine overlap speech but never lets playback masquerade as
// the user, and the BargeInListener's continuous-voice accumulator
// tolerates the gap.
func (es *EchoSuppressor) RemoveEchoRealtime(frame []int16) []int16 {
	in, ref, ok := es.snapshot(frame)
	if !ok {
		return frame
	}
	if !matchesReference(in, ref, es.threshold) {
		return frame
	}
	span := len(in)
	if span > len(ref) {
		span = len(ref)
	}
	out := make([]int16, len(frame))
	copy(out[span:], frame[span:])
	return out
}

// snapshot normalizes the frame and copies the current reference under
// the lock; ok is false when no comparison is possible (empty frame, no
// playback within the hold window, empty reference).
func (es *EchoSuppressor) snapshot(frame []int16) ([]float64, []float64, bool) {
	if len(frame) == 0 {
		return nil, nil, false
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if time.Since(es.lastPlayedAt) > es.hold || len(es.ref) == 0 {
		return nil, nil, false
	}
	in := make([]float64, len(frame))
	for i, s := range frame {
		in[i] = float64(s) / 32768.0
	}
	ref := make([]float64, len(es.ref))
	copy(ref, es.ref)
	return in, ref, true
}

// matchesReference runs the strided correlation search and, below
// threshold, the envelope fallback (at threshold+0.05, since envelopes
// correlate slightly higher by construction).
func matchesReference(in, ref []float64, threshold float64) bool {
	if bestCorrelation(in, ref) > threshold {
		return true
	}
	return envelopeCorrelation(in, ref, 8) > threshold+0.05
}

// bestCorrelation slides in across ref with a coarse stride and returns
// the highest normalized cross-correlation found. The stride keeps the
// search cheap enough for the capture path; alignment only needs to be
// approximate because the envelope fallback covers what the stride
// skips.
func bestCorrelation(in, ref []float64) float64 {
	n := len(in)
	if n > len(ref) {
		n = len(ref)
	}
	if n == 0 {
		return 0
	}
	in = in[:n]
	inEnergy := energy(in)
	if inEnergy == 0 {
		return 0
	}

	stride := n / 4
	if stride < 8 {
		stride = 8
	}

	best := 0.0
	for pos := 0; pos+n <= len(ref); pos += stride {
		seg := ref[pos : pos+n]
		segEnergy := energy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < n; i++ {
			dot += in[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > best {
			best = corr
			if best >= 0.999 {
				break
			}
		}
	}
	if best < 0 {
		return 0
	}
	if best > 1 {
		return 1
	}
	return best
}

// envelopeCorrelation compares decimated absolute-amplitude envelopes,
// which stay aligned for sibilants and other high-frequency content
// whose raw waveform decorrelates under room phase shifts.
func envelopeCorrelation(in, ref []float64, decimation int) float64 {
	inEnv := envelope(in, decimation)
	refEnv := envelope(ref, decimation)

	n := len(inEnv)
	if n > len(refEnv) {
		n = len(refEnv)
	}
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	inMean := mean(inEnv)
	inVar := 0.0
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := n / 4
	if stride < 2 {
		stride = 2
	}

	best := 0.0
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		seg := refEnv[pos : pos+n]
		segMean := mean(seg)
		dot := 0.0
		segVar := 0.0
		for i := 0; i < n; i++ {
			r := seg[i] - segMean
			dot += inEnv[i] * r
			segVar += r * r
		}
		if segVar > 0 {
			if corr := dot / math.Sqrt(inVar*segVar); corr > best {
				best = corr
			}
		}
	}
	return best
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

func energy(samples []float64) float64 {
	e := 0.0
	for _, s := range samples {
		e += s * s
	}
	return e
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := 0.0
	for _, s := range samples {
		m += s
	}
	return m / float64(len(samples))
}
