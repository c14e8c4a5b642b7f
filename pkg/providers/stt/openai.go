package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// OpenAISTT transcribes a recorded utterance file through the Whisper
// transcriptions endpoint. It is a single-shot provider: the caller
// records to disk first, then hands the path here.
type OpenAISTT struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *OpenAISTT) Name() string {
	return "openai-stt"
}

func (s *OpenAISTT) Transcribe(ctx context.Context, audioPath string, langOverride orchestrator.Language) (orchestrator.TranscriptResult, error) {
	wavData, err := os.ReadFile(audioPath)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	if langOverride != "" {
		if err := writer.WriteField("language", string(langOverride)); err != nil {
			return orchestrator.TranscriptResult{}, err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}
	if _, err := part.Write(wavData); err != nil {
		return orchestrator.TranscriptResult{}, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.TranscriptResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return orchestrator.TranscriptResult{}, fmt.Errorf("openai stt error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	lang := langOverride
	if lang == "" {
		lang = orchestrator.LanguageEn
	}

	return orchestrator.TranscriptResult{Text: result.Text, Lang: lang}, nil
}
