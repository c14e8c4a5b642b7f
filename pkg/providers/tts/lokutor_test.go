package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestLokutorTTSSayAsyncStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
		voice:  orchestrator.VoiceF1,
	}

	chunks := make(chan string, 1)
	chunks <- "hello"
	close(chunks)

	var audio []byte
	firstSpeakCalls := 0
	err := tts.SayAsyncStream(context.Background(), chunks, orchestrator.LanguageEn, func() {
		firstSpeakCalls++
	}, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}
	if firstSpeakCalls != 1 {
		t.Errorf("expected onFirstSpeak called once, got %d", firstSpeakCalls)
	}
	if tts.IsSpeaking() {
		t.Errorf("expected IsSpeaking to be false after stream completes")
	}

	if tts.Name() != "lokutor-tts" {
		t.Errorf("expected lokutor-tts, got %s", tts.Name())
	}

	if err := tts.Stop(); err != nil {
		t.Errorf("Stop on idle stream should be a no-op, got %v", err)
	}

	tts.Close()
}
