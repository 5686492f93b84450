package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers"
)

// AnthropicLLM completes conversations against the Anthropic Messages
// API. System content travels in the top-level system field, not the
// message list, so splitMessages separates the two before each call.
type AnthropicLLM struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicLLM{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
		client: providers.HTTPClient,
	}
}

// splitMessages separates system content from the dialog turns.
func splitMessages(messages []orchestrator.Message) (string, []map[string]string) {
	var system string
	var turns []map[string]string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		turns = append(turns, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}
	return system, turns
}

func (l *AnthropicLLM) headers() map[string]string {
	return map[string]string{
		"x-api-key":         l.apiKey,
		"anthropic-version": "2023-06-01",
	}
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	system, turns := splitMessages(messages)

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   turns,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
	}

	resp, err := postJSON(ctx, l.client, l.url, l.headers(), payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", vendorError("anthropic", resp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding anthropic response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content blocks")
	}
	return result.Content[0].Text, nil
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
