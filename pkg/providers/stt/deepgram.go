package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// DeepgramSTT hits Deepgram's pre-recorded /listen endpoint. Deepgram's
// wire protocol also supports a live websocket with interim results, so
// this provider additionally implements ListenableASRProvider: callers
// that want partial-transcript events get them fired synchronously
// around the single HTTP call (interim == final for a pre-recorded
// file, but the hook lets the orchestrator treat all ASR providers
// uniformly).
type DeepgramSTT struct {
	apiKey     string
	url        string
	sampleRate int

	mu        sync.Mutex
	listeners []orchestrator.TranscriptListener
}

func NewDeepgramSTT(apiKey string, sampleRate int) *DeepgramSTT {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &DeepgramSTT{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		sampleRate: sampleRate,
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

func (s *DeepgramSTT) AddListener(l orchestrator.TranscriptListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *DeepgramSTT) notify(text string, isFinal bool) {
	s.mu.Lock()
	listeners := append([]orchestrator.TranscriptListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(text, isFinal)
	}
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, audioPath string, langOverride orchestrator.Language) (orchestrator.TranscriptResult, error) {
	pcm, err := os.ReadFile(audioPath)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	u, err := url.Parse(s.url)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if langOverride != "" {
		params.Set("language", string(langOverride))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(pcm))
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/wav; rate=%d; channels=1", s.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return orchestrator.TranscriptResult{}, fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	var text string
	if len(result.Results.Channels) > 0 && len(result.Results.Channels[0].Alternatives) > 0 {
		text = result.Results.Channels[0].Alternatives[0].Transcript
	}

	lang := langOverride
	if lang == "" {
		lang = orchestrator.LanguageEn
	}

	s.notify(text, true)

	return orchestrator.TranscriptResult{Text: text, Lang: lang}, nil
}
