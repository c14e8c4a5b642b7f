package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type AssemblyAISTT struct {
	apiKey  string
	baseURL string
}

func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{
		apiKey:  apiKey,
		baseURL: "https://api.assemblyai.com/v2",
	}
}

func (s *AssemblyAISTT) Name() string {
	return "assemblyai-stt"
}

func (s *AssemblyAISTT) Transcribe(ctx context.Context, audioPath string, langOverride orchestrator.Language) (orchestrator.TranscriptResult, error) {
	wavData, err := os.ReadFile(audioPath)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	uploadURL, err := s.upload(ctx, wavData)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	transcriptID, err := s.submit(ctx, uploadURL, langOverride)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return orchestrator.TranscriptResult{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
			text, status, err := s.getTranscript(ctx, transcriptID)
			if err != nil {
				return orchestrator.TranscriptResult{}, err
			}
			if status == "completed" {
				lang := langOverride
				if lang == "" {
					lang = orchestrator.LanguageEn
				}
				return orchestrator.TranscriptResult{Text: text, Lang: lang}, nil
			}
			if status == "error" {
				return orchestrator.TranscriptResult{}, fmt.Errorf("assemblyai transcription failed")
			}
		}
	}
}

func (s *AssemblyAISTT) upload(ctx context.Context, audioData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/upload", bytes.NewReader(audioData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.UploadURL, nil
}

func (s *AssemblyAISTT) submit(ctx context.Context, uploadURL string, lang orchestrator.Language) (string, error) {
	payload := map[string]interface{}{
		"audio_url": uploadURL,
	}
	if lang != "" {
		payload["language_code"] = string(lang)
	}

	body, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transcript", bytes.NewReader(body))
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.ID, nil
}

func (s *AssemblyAISTT) getTranscript(ctx context.Context, id string) (string, string, error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/transcript/"+id, nil)
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.Text, result.Status, nil
}
