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

// StreamComplete streams token deltas from Anthropic's Messages API
// using its `stream: true` Server-Sent-Events wire format
// (content_block_delta / message_stop events).
func (l *AnthropicLLM) StreamComplete(ctx context.Context, messages []orchestrator.Message, onEvent func(orchestrator.LLMStreamEvent) error) error {
	system, turns := splitMessages(messages)

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   turns,
		"max_tokens": 1024,
		"stream":     true,
	}
	if system != "" {
		payload["system"] = system
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
	for k, v := range l.headers() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("anthropic llm stream error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		event.Type = ""
		event.Delta.Text = ""
		event.Delta.StopReason = ""
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				if err := onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMDelta, Delta: event.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				return onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMFinish, Reason: event.Delta.StopReason})
			}
		case "message_stop":
			return onEvent(orchestrator.LLMStreamEvent{Kind: orchestrator.LLMFinish})
		}
	}

	return scanner.Err()
}
