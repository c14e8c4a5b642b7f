// Package hotword implements the wake/stop keyword watchers: one
// background detector per role, each fed audio at the detector's native
// sample rate and frame length.
package hotword

import "context"

// Detector is the native keyword-model contract: SampleRate and
// FrameLength report the detector's native audio format; Process(frame)
// returns the index of the detected keyword, or -1 if none. Callers
// must resize incoming PCM blocks to exactly FrameLength before calling
// Process.
type Detector interface {
	SampleRate() int
	FrameLength() int
	Process(frame []int16) (int, error)
	Keywords() []string
	Name() string
}

// Watcher runs one Detector against a dedicated audio stream supplied
// externally by the caller; the Watcher does not open a device itself,
// keeping the input device single-owner.
type Watcher struct {
	detector Detector
	fallback *ASRFallback
	logger   logger

	consecutiveFails int
	circuitOpen      bool
	frameBuf         []int16
}

type logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// maxConsecutiveFails is how many consecutive detector failures trip
// the sticky circuit breaker.
const maxConsecutiveFails = 3

func NewWatcher(detector Detector, fallback *ASRFallback, log logger) *Watcher {
	return &Watcher{detector: detector, fallback: fallback, logger: log}
}

// Keywords reports the native detector's keyword labels in index order, so
// callers can map a Process hit (an index) back to the configured phrase or
// label it belongs to. Returns nil if no native detector is configured.
func (w *Watcher) Keywords() []string {
	if w.detector == nil {
		return nil
	}
	return w.detector.Keywords()
}

// CircuitOpen reports whether the detector has failed 3 consecutive
// times and the watcher has stuck to ASR-based fallback for the process
// lifetime, or whether no native detector is configured at all.
func (w *Watcher) CircuitOpen() bool {
	return w.circuitOpen || w.detector == nil
}

// resize pads or truncates frame to the detector's native FrameLength.
func (w *Watcher) resize(frame []int16) []int16 {
	n := w.detector.FrameLength()
	if len(frame) == n {
		return frame
	}
	if cap(w.frameBuf) < n {
		w.frameBuf = make([]int16, n)
	}
	buf := w.frameBuf[:n]
	copied := copy(buf, frame)
	for i := copied; i < n; i++ {
		buf[i] = 0
	}
	return buf
}

// Process feeds one captured frame to the native detector (resizing it
// first), tracks consecutive failures, and trips the sticky circuit
// breaker after maxConsecutiveFails. Returns the detected keyword index
// (-1 if none) and the detector's error, if any. Once the circuit is open, Process always returns
// (-1, nil) without touching the native detector again; callers should
// switch to ASRMatch for wake detection instead.
func (w *Watcher) Process(frame []int16) (int, error) {
	if w.CircuitOpen() {
		return -1, nil
	}

	resized := w.resize(frame)
	idx, err := w.detector.Process(resized)
	if err != nil {
		w.consecutiveFails++
		if w.logger != nil {
			w.logger.Warn("hotword detector failure", "name", w.detector.Name(), "consecutive", w.consecutiveFails, "error", err)
		}
		if w.consecutiveFails >= maxConsecutiveFails {
			w.circuitOpen = true
			if w.logger != nil {
				w.logger.Error("hotword detector circuit open, switching to ASR fallback for process lifetime", "name", w.detector.Name())
			}
		}
		return -1, err
	}
	w.consecutiveFails = 0
	return idx, nil
}

// ASRMatch delegates to the ASR-based fallback matcher, used either
// because the circuit is open or because hotword prerequisites were
// never available at startup.
func (w *Watcher) ASRMatch(ctx context.Context, transcript string) (string, bool) {
	if w.fallback == nil {
		return "", false
	}
	return w.fallback.Match(transcript)
}
