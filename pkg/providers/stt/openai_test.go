package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func writeTempWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utt.wav")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write temp wav: %v", err)
	}
	return path
}

func TestOpenAISTT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Text string `json:"text"`
		}{
			Text: "transcribed text",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &OpenAISTT{
		apiKey: "test-key",
		url:    server.URL,
		model:  "whisper-1",
	}

	result, err := s.Transcribe(context.Background(), writeTempWav(t), orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "transcribed text" {
		t.Errorf("expected 'transcribed text', got '%s'", result.Text)
	}
	if result.Lang != orchestrator.LanguageEn {
		t.Errorf("expected en, got %s", result.Lang)
	}

	if s.Name() != "openai-stt" {
		t.Errorf("expected openai-stt, got %s", s.Name())
	}
}
