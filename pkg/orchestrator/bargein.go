package orchestrator

import (
	"sync"
	"time"
)

// BargeInConfig carries the audio.barge_* configuration keys that tune
// the BargeInListener.
type BargeInConfig struct {
	BlockMs      int // frame duration in ms; each voiced frame adds this much to the accumulator
	MinVoiceMs   int
	DebounceMs   int
	CooldownMs   int
	ArmAfterMs   int
	VoiceDropMs  int
	VoiceHoldMs  int
	LeakMarginDb float64
	LeakDecayMs  int
	MinRMSDbfs   float64
	HighpassHz   float64
	ZCRMin       float64
	ZCRMax       float64
	RequireCobra bool
	CobraRelaxDb float64
}

// BargeInListener is a continuous-voice detector with an echo-leak
// baseline, arm delay, debounce, and cooldown. One instance lives for
// the whole session; Arm() resets its transient state and baseline on
// every transition into speaking.
type BargeInListener struct {
	mu     sync.Mutex
	cfg    BargeInConfig
	probe  *VoiceProbe
	neural VoiceProbabilityVAD
	logger Logger

	neuralDisabled bool
	leak           *LeakBaseline

	armedAt         time.Time
	voicedMs        int
	lastTriggerAt   time.Time
	lastUserVoiceAt time.Time
	voiceHoldUntil  time.Time

	queue [][]int16
}

const bargeInQueueCap = 64

func NewBargeInListener(cfg BargeInConfig, probe *VoiceProbe, neural VoiceProbabilityVAD, logger Logger) *BargeInListener {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	decayMs := cfg.LeakDecayMs
	if decayMs < cfg.CooldownMs {
		decayMs = cfg.CooldownMs
	}
	return &BargeInListener{
		cfg:    cfg,
		probe:  probe,
		neural: neural,
		logger: logger,
		leak:   NewLeakBaseline(time.Duration(decayMs) * time.Millisecond),
	}
}

// Arm (re)starts the listener: resets the voiced-ms accumulator and the
// leak baseline, and records the arm time. No frame is treated as voice
// within ArmAfterMs of arming.
func (b *BargeInListener) Arm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armedAt = time.Now()
	b.voicedMs = 0
	b.leak.Reset()
	b.queue = b.queue[:0]
}

// PushFrame enqueues a captured frame for later draining by HeardSpeech.
// Non-blocking; the oldest frame is dropped on overflow.
func (b *BargeInListener) PushFrame(frame []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]int16, len(frame))
	copy(cp, frame)
	if len(b.queue) >= bargeInQueueCap {
		b.queue = b.queue[1:]
	}
	b.queue = append(b.queue, cp)
}

// isHumanVoice runs the full voice gate against one frame: neural VAD
// with a hold latch, leak-relative RMS threshold, then high-pass +
// zero-crossing when no neural VAD is available. Must be called with
// b.mu held. fastBaseline forces fast leak-baseline smoothing (used
// while draining during the arm delay).
func (b *BargeInListener) isHumanVoice(frame []int16, now time.Time, fastBaseline bool) bool {
	neuralHit := false
	if b.neural != nil && !b.neuralDisabled {
		prob, err := b.neural.Probability(frame)
		if err != nil {
			b.neuralDisabled = true
			b.logger.Warn("barge-in neural VAD disabled after error", "name", b.neural.Name(), "error", err)
		} else if prob >= 0.5 {
			neuralHit = true
			b.voiceHoldUntil = now.Add(time.Duration(b.cfg.VoiceHoldMs) * time.Millisecond)
		}
	}

	rms := b.probe.RMSDbfs(frame)

	margin := b.cfg.LeakMarginDb
	if neuralHit {
		margin = b.cfg.CobraRelaxDb
	}
	threshold := b.leak.Threshold(now, b.cfg.MinRMSDbfs, margin)

	if b.cfg.RequireCobra && !neuralHit {
		b.leak.Update(rms, fastBaseline, b.cfg.LeakMarginDb, now)
		return false
	}

	rmsPass := rms >= threshold

	zcrPass := true
	if b.neural == nil || b.neuralDisabled {
		filtered := b.probe.Highpass(frame, b.cfg.HighpassHz)
		zcr := b.probe.ZeroCrossingRate(filtered)
		zcrPass = zcr >= b.cfg.ZCRMin && zcr <= b.cfg.ZCRMax
	}

	hit := neuralHit || (rmsPass && zcrPass)
	if !hit && now.Before(b.voiceHoldUntil) {
		hit = true
	}

	if hit {
		b.lastUserVoiceAt = now
		return true
	}

	b.leak.Update(rms, fastBaseline, b.cfg.LeakMarginDb, now)
	return false
}

// HeardSpeech polls the queue for up to 20ms and reports whether a
// continuous-voice barge-in should fire. Each voiced frame adds BlockMs
// to the accumulator, capped at needMs; each non-voiced frame erodes it
// by VoiceDropMs rather than resetting it outright. Before ArmAfterMs
// has elapsed since Arm(), frames are
// drained with fast baseline updates but HeardSpeech always returns false.
// Once the accumulator reaches needMs and at least CooldownMs has elapsed
// since the last trigger, it fires, resets the accumulator, and records
// the trigger time.
func (b *BargeInListener) HeardSpeech(needMs int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(20 * time.Millisecond)

	for time.Now().Before(deadline) {
		if len(b.queue) == 0 {
			break
		}
		frame := b.queue[0]
		b.queue = b.queue[1:]

		now := time.Now()
		arming := now.Sub(b.armedAt) < time.Duration(b.cfg.ArmAfterMs)*time.Millisecond

		voice := b.isHumanVoice(frame, now, arming)

		if arming {
			// Drain while updating baseline fast, but never trigger.
			continue
		}

		if voice {
			b.voicedMs += b.cfg.BlockMs
			if b.voicedMs > needMs {
				b.voicedMs = needMs
			}
		} else {
			b.voicedMs -= b.cfg.VoiceDropMs
			if b.voicedMs < 0 {
				b.voicedMs = 0
			}
		}

		if b.voicedMs >= needMs {
			sinceLast := now.Sub(b.lastTriggerAt)
			if b.lastTriggerAt.IsZero() || sinceLast >= time.Duration(b.cfg.CooldownMs)*time.Millisecond {
				b.voicedMs = 0
				b.lastTriggerAt = now
				return true
			}
			// Cooldown still active: hold accumulator at the cap, wait.
			b.voicedMs = needMs
		}
	}

	return false
}

// UserIsSpeaking is a cheap query, separate from HeardSpeech, asking
// whether the user is vocalizing right now via a short voice-hold latch
// against the most recent voiced timestamp.
func (b *BargeInListener) UserIsSpeaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastUserVoiceAt.IsZero() {
		return false
	}
	return time.Since(b.lastUserVoiceAt) < time.Duration(b.cfg.VoiceHoldMs)*time.Millisecond
}

// Debounce reports whether at least DebounceMs has elapsed since the last
// trigger, a cheaper pre-check HeardSpeech callers may use to skip
// redundant work right after a trigger.
func (b *BargeInListener) Debounce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastTriggerAt.IsZero() {
		return true
	}
	return time.Since(b.lastTriggerAt) >= time.Duration(b.cfg.DebounceMs)*time.Millisecond
}
