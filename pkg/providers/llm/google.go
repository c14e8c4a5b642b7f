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

// GoogleLLM implements the GenerateStream contract against Gemini's
// streamGenerateContent endpoint in server-sent-events mode.
type GoogleLLM struct {
	apiKey      string
	url         string
	model       string
	temperature float64
}

func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey:      apiKey,
		url:         "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":streamGenerateContent",
		model:       model,
		temperature: 0.7,
	}
}

func (l *GoogleLLM) Name() string {
	return "google-llm"
}

func (l *GoogleLLM) GenerateStream(ctx context.Context, userText string, langHint orchestrator.Language, mode orchestrator.GenerationMode, history []orchestrator.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errCh := make(chan error, 1)

	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	contents := make([]content, 0, len(history)+1)
	for _, m := range history {
		role := m.Role
		if role == "assistant" {
			role = "model"
		} else {
			role = "user"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: userText}}})

	temperature := l.temperature
	if mode == orchestrator.ModePrecise {
		temperature = 0
	}

	payload := map[string]interface{}{
		"system_instruction": map[string]interface{}{
			"parts": []part{{Text: modeSystemPrompt(langHint, mode)}},
		},
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"temperature": temperature,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		errCh <- err
		close(tokens)
		close(errCh)
		return tokens, errCh
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url+"?alt=sse&key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		errCh <- err
		close(tokens)
		close(errCh)
		return tokens, errCh
	}
	req.Header.Set("Content-Type", "application/json")

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
			errCh <- fmt.Errorf("google llm error (status %d): %s", resp.StatusCode, string(respBody))
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
			var chunk struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Candidates) == 0 || len(chunk.Candidates[0].Content.Parts) == 0 {
				continue
			}
			select {
			case tokens <- chunk.Candidates[0].Content.Parts[0].Text:
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
