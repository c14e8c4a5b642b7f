package orchestrator

import "errors"


var (
	
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	
	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	
	ErrLLMFailed = errors.New("language model generation failed")

	
	ErrTTSFailed = errors.New("text-to-speech synthesis failed")


	ErrNilProvider = errors.New("required provider is nil")


	ErrContextCancelled = errors.New("operation cancelled by context")


	ErrHotwordUnavailable = errors.New("hotword detector prerequisites missing")


	ErrHotwordCircuitOpen = errors.New("hotword detector disabled after repeated failures")


	ErrAudioDeviceUnavailable = errors.New("audio device unavailable")


	ErrConfigIncomplete = errors.New("configuration incomplete")


	ErrUtteranceTooShort = errors.New("utterance shorter than min_valid_seconds")
)
