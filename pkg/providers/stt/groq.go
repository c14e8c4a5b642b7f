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

type GroqSTT struct {
	apiKey string
	url    string
	model  string
}

func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *GroqSTT) Name() string {
	return "groq-stt"
}

func (s *GroqSTT) Transcribe(ctx context.Context, audioPath string, langOverride orchestrator.Language) (orchestrator.TranscriptResult, error) {
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
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return orchestrator.TranscriptResult{}, err
	}

	if err := writer.Close(); err != nil {
		return orchestrator.TranscriptResult{}, err
	}

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
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return orchestrator.TranscriptResult{}, fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
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
