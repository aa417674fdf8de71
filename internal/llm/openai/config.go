package openai

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-4o"
	DefaultAPIVersion = "2024-06-01"
)

// Config for the OpenAI and Azure OpenAI chat completions clients.
type Config struct {
	APIKey      string
	BaseURL     string // OpenAI only
	Model       string // OpenAI model or Azure deployment name
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration // http client timeout; the extractor bounds each call separately

	// Azure routes requests to a deployment and authenticates with api-key.
	AzureEndpoint   string
	AzureAPIVersion string
}

type Client struct {
	cfg      Config
	endpoint string
	headers  map[string]string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient targets api.openai.com, or any compatible base URL.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	return newClient(cfg, endpoint, map[string]string{"Authorization": "Bearer " + cfg.APIKey}, logger)
}

// NewAzureClient targets {endpoint}/openai/deployments/{model}/chat/completions.
func NewAzureClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.AzureAPIVersion == "" {
		cfg.AzureAPIVersion = DefaultAPIVersion
	}
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(cfg.AzureEndpoint, "/"), cfg.Model, cfg.AzureAPIVersion)
	return newClient(cfg, endpoint, map[string]string{"api-key": cfg.APIKey}, logger)
}

func newClient(cfg Config, endpoint string, headers map[string]string, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		headers:  headers,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}
