package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// GroqLLM talks to Groq's OpenAI-compatible chat-completions endpoint,
// the fastest local-feeling option in the configured provider set;
// cmd/agent selects it with LLM_PROVIDER=groq (its default is ollama).
type GroqLLM struct {
	apiKey      string
	url         string
	model       string
	temperature float64
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{
		apiKey:      apiKey,
		url:         "https://api.groq.com/openai/v1/chat/completions",
		model:       model,
		temperature: 0.7,
	}
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}

func (l *GroqLLM) GenerateStream(ctx context.Context, userText string, langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errCh := make(chan error, 1)

	messages := buildChatMessages(langHint, mode, history, userText)
	temperature := l.temperature
	if mode == orchestrator.ModePrecise {
		temperature = 0
	}

	payload := map[string]interface{}{
		"model":       l.model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		errCh <- err
		close(tokens)
		close(errCh)
		return tokens, errCh
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		errCh <- err
		close(tokens)
		close(errCh)
		return tokens, errCh
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	go func() {
		defer close(tokens)
		defer close(errCh)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("groq llm error (status %d): %s", resp.StatusCode, string(respBody))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			if data == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case tokens <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()

	return tokens, errCh
}
