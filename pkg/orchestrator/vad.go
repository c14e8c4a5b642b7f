package orchestrator

import (
	"math"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// rmsFloors maps VAD aggressiveness 0-3 to the normalized RMS amplitude a
// frame must clear to count as speech, the amplitude-domain analogue of
// VADThreshold's probability mapping: higher aggressiveness demands a
// louder signal before endpointing confirms speech.
var rmsFloors = map[int]float64{0: 0.015, 1: 0.02, 2: 0.03, 3: 0.045}

// RMSVAD is the utterance recorder's endpointing detector: a hysteresis
// state machine over per-frame RMS amplitude. Speech starts only after
// confirmFrames consecutive frames clear the floor (filtering spikes and
// playback-onset pops); it ends once the signal has stayed below the
// floor for silenceLimit of wall time.
type RMSVAD struct {
	floor         float64
	silenceLimit  time.Duration
	confirmFrames int

	speaking   bool
	confirmRun int
	quietSince time.Time
}

// NewRMSVAD builds a detector with an explicit RMS floor in [0, 1].
func NewRMSVAD(floor float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		floor:        floor,
		silenceLimit: silenceLimit,
		// ~140ms of continuous sound at 20ms frames before speech is
		// confirmed.
		confirmFrames: 7,
	}
}

// NewRMSVADForAggressiveness builds a detector whose floor follows the
// configured audio.vad_aggressiveness level; out-of-range levels use the
// middle setting.
func NewRMSVADForAggressiveness(aggressiveness int, silenceLimit time.Duration) *RMSVAD {
	floor, ok := rmsFloors[aggressiveness]
	if !ok {
		floor = rmsFloors[2]
	}
	return NewRMSVAD(floor, silenceLimit)
}

// Process classifies one PCM chunk (16-bit little-endian mono) and
// returns a VADEvent when the speaking state changes: VADSpeechStart once
// the confirm run completes, VADSpeechEnd once silence has persisted for
// silenceLimit, VADSilence for quiet frames in between, and nil while a
// start is still being confirmed or speech simply continues.
func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	now := time.Now()

	if v.frameRMS(chunk) > v.floor {
		v.confirmRun++
		if !v.speaking {
			if v.confirmRun < v.confirmFrames {
				return nil, nil
			}
			v.speaking = true
			return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
		}
		v.quietSince = time.Time{}
		return nil, nil
	}

	v.confirmRun = 0

	if v.speaking {
		if v.quietSince.IsZero() {
			v.quietSince = now
		}
		if now.Sub(v.quietSince) >= v.silenceLimit {
			v.speaking = false
			v.quietSince = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

// Reset clears transient state so the detector can be reused on a fresh
// stream without rebuilding it.
func (v *RMSVAD) Reset() {
	v.speaking = false
	v.quietSince = time.Time{}
	v.confirmRun = 0
}

// Clone returns a detector with the same tuning and no transient state,
// for running a second stream concurrently.
func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		floor:         v.floor,
		silenceLimit:  v.silenceLimit,
		confirmFrames: v.confirmFrames,
	}
}

var _ VADProvider = (*RMSVAD)(nil)

func (v *RMSVAD) frameRMS(chunk []byte) float64 {
	samples := audio.BytesToInt16(chunk)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
