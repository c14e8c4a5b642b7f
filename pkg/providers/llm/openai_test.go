package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func drainTokens(t *testing.T, tokens <-chan string, errCh <-chan error) string {
	t.Helper()
	var sb strings.Builder
	for tokens != nil || errCh != nil {
		select {
		case tok, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			sb.WriteString(tok)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				t.Fatalf("unexpected stream error: %v", err)
			}
		}
	}
	return sb.String()
}

func TestOpenAILLMGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"hello ", "from ", "openai"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	l := &OpenAILLM{apiKey: "test-key", url: server.URL, model: "gpt-4o", temperature: 0.7}

	tokens, errCh := l.GenerateStream(context.Background(), "hi", orchestrator.LanguageEn, orchestrator.ModeFriendly, nil)
	got := drainTokens(t, tokens, errCh)

	if got != "hello from openai" {
		t.Errorf("expected 'hello from openai', got %q", got)
	}
	if l.Name() != "openai-llm" {
		t.Errorf("expected openai-llm, got %s", l.Name())
	}
}
