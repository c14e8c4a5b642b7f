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

// AnthropicLLM implements the GenerateStream contract against Anthropic's
// messages API in streaming mode (content_block_delta SSE events).
type AnthropicLLM struct {
	apiKey      string
	url         string
	model       string
	temperature float64
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicLLM{
		apiKey:      apiKey,
		url:         "https://api.anthropic.com/v1/messages",
		model:       model,
		temperature: 0.7,
	}
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}

func (l *AnthropicLLM) GenerateStream(ctx context.Context, userText string, langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errCh := make(chan error, 1)

	system := modeSystemPrompt(langHint, mode)
	anthropicMessages := make([]map[string]string, 0, len(history)+1)
	for _, m := range history {
		anthropicMessages = append(anthropicMessages, map[string]string{"role": m.Role, "content": m.Content})
	}
	anthropicMessages = append(anthropicMessages, map[string]string{"role": "user", "content": userText})

	temperature := l.temperature
	if mode == orchestrator.ModePrecise {
		temperature = 0
	}

	payload := map[string]interface{}{
		"model":       l.model,
		"system":      system,
		"messages":    anthropicMessages,
		"max_tokens":  1024,
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
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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
			errCh <- fmt.Errorf("anthropic llm error (status %d): %s", resp.StatusCode, string(respBody))
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
			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if event.Type != "content_block_delta" || event.Delta.Text == "" {
				continue
			}
			select {
			case tokens <- event.Delta.Text:
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
