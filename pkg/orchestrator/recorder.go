package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// RecorderProfile carries the endpointing bounds for one capture mode;
// config.InSession*() and the standby defaults in
// internal/config.Default() supply the concrete numbers.
type RecorderProfile struct {
	SilenceMsToEnd   int
	MaxRecordSeconds float64
	MinValidSeconds  float64
}

// Utterance is the Recorder's {path, duration} return shape.
type Utterance struct {
	Path     string
	Duration time.Duration
}

// Recorder captures frames from a supplied channel until silence is
// confirmed after at least one voiced frame, or MaxRecordSeconds
// elapses, then writes the captured PCM to a WAV file at outPath.
// Utterances shorter than MinValidSeconds are discarded
// (ErrUtteranceTooShort) so the caller's outer loop can retry without
// changing state. An RMSVAD drives the voiced/silence endpointing.
type Recorder struct {
	sampleRate     int
	aggressiveness int // VAD aggressiveness 0-3
	logger         Logger
}

func NewRecorder(sampleRate int, vadAggressiveness int, logger Logger) *Recorder {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Recorder{sampleRate: sampleRate, aggressiveness: vadAggressiveness, logger: logger}
}

// Record drains frames until the profile's stop condition is reached or
// ctx is cancelled, then persists the utterance to outPath.
func (r *Recorder) Record(ctx context.Context, frames <-chan []int16, profile RecorderProfile, outPath string) (Utterance, error) {
	vad := NewRMSVADForAggressiveness(r.aggressiveness, time.Duration(profile.SilenceMsToEnd)*time.Millisecond)
	deadline := time.Now().Add(time.Duration(profile.MaxRecordSeconds * float64(time.Second)))

	var pcm []byte
	hasVoiced := false

recordLoop:
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break recordLoop
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Utterance{}, ctx.Err()
		case <-timer.C:
			break recordLoop
		case frame, open := <-frames:
			timer.Stop()
			if !open {
				break recordLoop
			}
			b := audio.Int16ToBytes(frame)
			pcm = append(pcm, b...)

			ev, _ := vad.Process(b)
			if ev == nil {
				continue
			}
			switch ev.Type {
			case VADSpeechStart:
				hasVoiced = true
			case VADSpeechEnd:
				if hasVoiced {
					break recordLoop
				}
			}
		}
	}

	duration := pcmDuration(len(pcm), r.sampleRate)
	if duration.Seconds() < profile.MinValidSeconds {
		r.logger.Debug("utterance discarded: below min_valid_seconds", "duration_s", duration.Seconds(), "min_valid_seconds", profile.MinValidSeconds)
		return Utterance{}, ErrUtteranceTooShort
	}

	if err := audio.WriteWavFile(outPath, pcm, r.sampleRate); err != nil {
		return Utterance{}, err
	}
	return Utterance{Path: outPath, Duration: duration}, nil
}

func pcmDuration(byteLen, sampleRate int) time.Duration {
	samples := byteLen / 2
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
