package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestDeepgramSTT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		type alt struct {
			Transcript string `json:"transcript"`
		}
		type channel struct {
			Alternatives []alt `json:"alternatives"`
		}
		resp := struct {
			Results struct {
				Channels []channel `json:"channels"`
			} `json:"results"`
		}{}
		resp.Results.Channels = []channel{{Alternatives: []alt{{Transcript: "deepgram transcription"}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "test-key", url: server.URL, sampleRate: 16000}

	var heard []string
	s.AddListener(func(transcript string, isFinal bool) {
		heard = append(heard, transcript)
	})

	result, err := s.Transcribe(context.Background(), writeTempWav(t), orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "deepgram transcription" {
		t.Errorf("expected 'deepgram transcription', got '%s'", result.Text)
	}
	if len(heard) != 1 || heard[0] != "deepgram transcription" {
		t.Errorf("expected listener to be notified once, got %v", heard)
	}
	if s.Name() != "deepgram-stt" {
		t.Errorf("expected deepgram-stt, got %s", s.Name())
	}
}
