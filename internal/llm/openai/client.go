package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

var _ llm.VisionModel = (*Client)(nil)

func (c *Client) Name() string { return "openai:" + c.cfg.Model }

// Complete sends one chat/completions request. Images are inlined as data URLs.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, toMessage(m))
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages":    messages,
	}
	if c.cfg.MaxTokens > 0 {
		body["max_tokens"] = c.cfg.MaxTokens
	}
	if req.JSONMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	raw, _, err := llm.SendJSON(ctx, c.http, c.endpoint, body, c.headers, c.logger)
	if err != nil {
		return llm.Completion{}, err
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.Completion{}, common.ProviderError(err, "decode chat completion")
	}
	out := llm.Completion{
		Model: cc.Model,
		Usage: entity.Usage{InputTokens: cc.Usage.PromptTokens, OutputTokens: cc.Usage.CompletionTokens},
	}
	if len(cc.Choices) == 0 {
		return out, common.ProviderError(fmt.Errorf("no choices"), "empty chat completion")
	}
	out.Content = strings.TrimSpace(cc.Choices[0].Message.Content)
	return out, nil
}

func toMessage(m llm.Message) map[string]any {
	if m.Role == llm.RoleAssistant {
		var sb strings.Builder
		for _, p := range m.Parts {
			sb.WriteString(p.Text)
		}
		return map[string]any{"role": "assistant", "content": sb.String()}
	}
	parts := make([]map[string]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.IsImage() {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": llm.DataURL(*p.Image), "detail": "high"},
			})
			continue
		}
		parts = append(parts, map[string]any{"type": "text", "text": p.Text})
	}
	return map[string]any{"role": "user", "content": parts}
}
