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

// OpenAILLM streams from OpenAI's chat-completions SSE endpoint.
type OpenAILLM struct {
	apiKey      string
	url         string
	model       string
	temperature float64
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		apiKey:      apiKey,
		url:         "https://api.openai.com/v1/chat/completions",
		model:       model,
		temperature: 0.7,
	}
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}

// GenerateStream issues a streaming chat-completion request and pumps
// delta content onto the returned token channel. mode precise forces
// temperature 0 plus a strict-facts system prefix; friendly uses the
// provider's configured temperature.
func (l *OpenAILLM) GenerateStream(ctx context.Context, userText string, langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message) (<-chan string, <-chan error) {
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
			errCh <- fmt.Errorf("openai llm error (status %d): %s", resp.StatusCode, string(respBody))
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

// buildChatMessages assembles an OpenAI-shaped message list: a
// language-hint + mode-derived system preamble, the bounded conversation
// history (max_history_turns x 2 alternating turns), then the new user
// turn.
func buildChatMessages(langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message, userText string) []orchestrator.Message {
	msgs := make([]orchestrator.Message, 0, len(history)+2)
	msgs = append(msgs, orchestrator.Message{Role: "system", Content: modeSystemPrompt(langHint, mode)})
	msgs = append(msgs, history...)
	msgs = append(msgs, orchestrator.Message{Role: "user", Content: userText})
	return msgs
}

// modeSystemPrompt builds the precise/friendly system preamble; precise
// prepends the strict-facts instruction.
func modeSystemPrompt(langHint orchestrator.Language, mode orchestrator.GenerationMode) string {
	lang := "English"
	if langHint == orchestrator.LanguageRo {
		lang = "Romanian"
	}
	base := fmt.Sprintf("You are a concise voice assistant. Reply in %s, in short spoken sentences.", lang)
	if mode == orchestrator.ModePrecise {
		return base + " Only state facts you are certain of; if you don't know, say so plainly instead of guessing."
	}
	return base + " Keep a warm, friendly tone."
}
