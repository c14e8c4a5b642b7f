package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// OllamaLLM streams from a local Ollama server via the official client.
// The transport is tuned for low-latency repeated requests to a local
// model: a connection-pooled http.Client rather than the package-level
// default.
type OllamaLLM struct {
	client *api.Client
	model  string

	warmupOnce sync.Once
	warmupErr  error
}

func NewOllamaLLM(host, model string) (*OllamaLLM, error) {
	if model == "" {
		model = "llama3.2"
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	parsed, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &OllamaLLM{
		client: api.NewClient(parsed, httpClient),
		model:  model,
	}, nil
}

func (l *OllamaLLM) Name() string {
	return "ollama-llm"
}

// Warmup issues a tiny /api/generate call with a capped prediction
// length so the first real turn doesn't pay model-load latency. Calling
// it more than once is a no-op after the first attempt, successful or
// not: a failed warm-up is reported once and then treated as
// already-attempted, since a model that can't warm up won't warm up
// better on retry from here.
func (l *OllamaLLM) Warmup(ctx context.Context) error {
	l.warmupOnce.Do(func() {
		stream := false
		numPredict := 5
		l.warmupErr = l.client.Generate(ctx, &api.GenerateRequest{
			Model:  l.model,
			Prompt: "hello",
			Stream: &stream,
			Options: map[string]interface{}{
				"num_predict": numPredict,
			},
		}, func(api.GenerateResponse) error { return nil })
	})
	return l.warmupErr
}

// GenerateStream streams chat deltas from the Ollama server. Mode
// precise maps to temperature 0, top_p 0.9, top_k 40 plus a
// strict-facts system prefix; friendly keeps higher-entropy sampling
// (top_p 0.95, top_k 50).
func (l *OllamaLLM) GenerateStream(ctx context.Context, userText string, langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errCh := make(chan error, 1)

	messages := buildChatMessages(langHint, mode, history, userText)
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]interface{}{"num_predict": 150, "num_ctx": 2048}
	if mode == orchestrator.ModePrecise {
		options["temperature"] = 0.0
		options["top_p"] = 0.9
		options["top_k"] = 40
	} else {
		options["temperature"] = 0.7
		options["top_p"] = 0.95
		options["top_k"] = 50
	}

	stream := true
	req := &api.ChatRequest{
		Model:    l.model,
		Messages: apiMessages,
		Stream:   &stream,
		Options:  options,
	}

	go func() {
		defer close(tokens)
		defer close(errCh)

		err := l.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case tokens <- resp.Message.Content:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("ollama llm error: %w", err)
		}
	}()

	return tokens, errCh
}
