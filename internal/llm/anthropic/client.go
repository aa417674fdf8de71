package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

const DefaultModel = "claude-sonnet-4-5"

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string // tests point this at httptest
	Temperature float32
	MaxTokens   int
}

// Client implements llm.VisionModel on the Messages API.
type Client struct {
	client sdk.Client
	cfg    Config
	logger *slog.Logger
}

var _ llm.VisionModel = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: sdk.NewClient(opts...), cfg: cfg, logger: logger}
}

func (c *Client) Name() string { return "anthropic:" + c.cfg.Model }

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.cfg.Model),
		MaxTokens:   int64(c.cfg.MaxTokens),
		Messages:    toSDKMessages(req.Messages),
		Temperature: sdk.Float(float64(c.cfg.Temperature)),
	}
	system := req.System
	if req.JSONMode {
		system += "\nRespond with a single JSON object and nothing else."
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Completion{}, common.ProviderError(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	out := llm.Completion{
		Content: strings.TrimSpace(sb.String()),
		Model:   string(msg.Model),
		Usage:   entity.Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}
	if out.Content == "" {
		return out, common.ProviderError(fmt.Errorf("stop reason %s", msg.StopReason), "anthropic: no text content")
	}
	return out, nil
}

func toSDKMessages(msgs []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.IsImage() {
				blocks = append(blocks, sdk.NewImageBlockBase64(p.Image.MIMEType, llm.Base64(*p.Image)))
				continue
			}
			blocks = append(blocks, sdk.NewTextBlock(p.Text))
		}
		if m.Role == llm.RoleAssistant {
			out[i] = sdk.NewAssistantMessage(blocks...)
		} else {
			out[i] = sdk.NewUserMessage(blocks...)
		}
	}
	return out
}
