package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	LLM      LLMConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	History  HistoryConfig

	LogLevel         string
	ExtractionConfig string // path to the YAML field/example definition
}

// LLMConfig holds vision model configuration for every supported provider.
type LLMConfig struct {
	Provider    string // openai | azure | anthropic | gemini
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Concurrency int     // max in-flight model calls
	RPS         float64 // 0 disables rate limiting

	OpenAI    OpenAIConfig
	Azure     AzureConfig
	Anthropic ProviderKey
	Gemini    ProviderKey
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

type ProviderKey struct {
	APIKey string
	Model  string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Backend            string // local | gcs | memory
	Root               string // base directory for the local backend
	GCSProjectID       string
	GCSCredentialsFile string

	InputContainer  string
	OutputContainer string
	FinalContainer  string
	OutputPrefix    string
	FinalPrefix     string
}

// PipelineConfig holds batch extraction configuration
type PipelineConfig struct {
	Threshold       float64
	Warn            float64
	DocumentWorkers int
	RasterDPI       int
	Pdftoppm        string
	MaxPages        int
	DuplicatePolicy string // latest-modified | reject-ambiguous
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	CORSOrigins []string
}

// HistoryConfig holds run-history database configuration
type HistoryConfig struct {
	DSN         string // postgres://... or sqlite:<path>; empty disables history
	MaxConns    int32
	DialTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2048),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			Concurrency: getEnvAsInt("LLM_CONCURRENCY", 4),
			RPS:         getEnvAsFloat64("LLM_RPS", 0),
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   getEnv("OPENAI_MODEL", "gpt-4o"),
			},
			Azure: AzureConfig{
				Endpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
				APIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
				Deployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
				APIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-06-01"),
			},
			Anthropic: ProviderKey{
				APIKey: getEnv("ANTHROPIC_API_KEY", ""),
				Model:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			},
			Gemini: ProviderKey{
				APIKey: getEnv("GEMINI_API_KEY", ""),
				Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			},
		},
		Storage: StorageConfig{
			Backend:            getEnv("STORAGE_BACKEND", "local"),
			Root:               getEnv("STORAGE_ROOT", "./data"),
			GCSProjectID:       getEnv("GCS_PROJECT_ID", ""),
			GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			InputContainer:     getEnv("INPUT_CONTAINER", "input"),
			OutputContainer:    getEnv("OUTPUT_CONTAINER", "output"),
			FinalContainer:     getEnv("FINAL_CONTAINER", "output"),
			OutputPrefix:       getEnv("OUTPUT_PREFIX", "invoices/"),
			FinalPrefix:        getEnv("FINAL_PREFIX", "final_output/"),
		},
		Pipeline: PipelineConfig{
			Threshold:       getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.95),
			Warn:            getEnvAsFloat64("CONFIDENCE_WARN", 0.90),
			DocumentWorkers: getEnvAsInt("DOCUMENT_WORKERS", 2),
			RasterDPI:       getEnvAsInt("RASTER_DPI", 200),
			Pdftoppm:        getEnv("PDFTOPPM", "pdftoppm"),
			MaxPages:        getEnvAsInt("MAX_PAGES", 0),
			DuplicatePolicy: getEnv("DUPLICATE_POLICY", "latest-modified"),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:    getEnv("GRPC_ADDR", ":9090"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS"),
		},
		History: HistoryConfig{
			DSN:         getEnv("HISTORY_DSN", ""),
			MaxConns:    getEnvAsInt32("HISTORY_MAX_CONNS", 4),
			DialTimeout: getEnvAsDuration("HISTORY_DIAL_TIMEOUT", 3*time.Second),
		},
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ExtractionConfig: getEnv("EXTRACTION_CONFIG", ""),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("STORAGE_BACKEND", c.Storage.Backend, OneOf("local", "gcs", "memory"))
	v.Field("INPUT_CONTAINER", c.Storage.InputContainer, Required)
	v.Field("OUTPUT_CONTAINER", c.Storage.OutputContainer, Required)
	v.Field("FINAL_CONTAINER", c.Storage.FinalContainer, Required)
	v.Field("CONFIDENCE_THRESHOLD", c.Pipeline.Threshold, HalfOpenUnit)
	v.Field("CONFIDENCE_WARN", c.Pipeline.Warn, HalfOpenUnit)
	v.Field("DOCUMENT_WORKERS", c.Pipeline.DocumentWorkers, Positive)
	v.Field("DUPLICATE_POLICY", c.Pipeline.DuplicatePolicy, OneOf("latest", "latest-modified", "reject", "reject-ambiguous"))
	if c.Storage.Backend == "gcs" {
		v.Field("GCS_PROJECT_ID", c.Storage.GCSProjectID, Required)
	}
	return ValidateAndReturnError(v)
}

// ValidateLLM checks the settings needed to call the configured model provider.
func (c *Config) ValidateLLM() error {
	v := NewValidator()
	v.Field("LLM_PROVIDER", c.LLM.Provider, OneOf("openai", "azure", "anthropic", "gemini"))
	v.Field("LLM_CONCURRENCY", c.LLM.Concurrency, Positive)
	switch c.LLM.Provider {
	case "openai":
		v.Field("OPENAI_API_KEY", c.LLM.OpenAI.APIKey, Required)
	case "azure":
		v.Field("AZURE_OPENAI_ENDPOINT", c.LLM.Azure.Endpoint, Required)
		v.Field("AZURE_OPENAI_API_KEY", c.LLM.Azure.APIKey, Required)
		v.Field("AZURE_OPENAI_DEPLOYMENT", c.LLM.Azure.Deployment, Required)
	case "anthropic":
		v.Field("ANTHROPIC_API_KEY", c.LLM.Anthropic.APIKey, Required)
	case "gemini":
		v.Field("GEMINI_API_KEY", c.LLM.Gemini.APIKey, Required)
	}
	return ValidateAndReturnError(v)
}
