package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// StreamComplete streams token deltas from OpenAI's chat completions
// endpoint using its `stream: true` Server-Sent-Events wire format.
func (l *OpenAILLM) StreamComplete(ctx context.Context, messages []orchestrator.Message, onEvent func(orchestrator.LLMStreamEvent) error) error {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
		"stream":   true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("openai llm stream error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMFinish})
		}

		chunk.Choices = nil
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if d := chunk.Choices[0].Delta.Content; d != "" {
			if err := onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMDelta, Delta: d}); err != nil {
				return err
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			return onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMFinish, Reason: chunk.Choices[0].FinishReason})
		}
	}

	return scanner.Err()
}
