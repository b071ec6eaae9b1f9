// Package llm wraps a chat completion API that answers with schema-constrained JSON.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 800
)

// Client produces structured completions.
type Client interface {
	// Complete decodes the model's JSON answer into out.
	Complete(ctx context.Context, prompt Prompt, out any) (*Usage, error)
	Model() string
}

type Prompt struct {
	System      string
	User        string
	SchemaName  string
	Schema      any
	MaxTokens   int
	Temperature *float64 // nil = model default
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	MaxRetries *int
}

type openAIClient struct {
	api   openai.Client
	model string
}

func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &openAIClient{api: openai.NewClient(opts...), model: model}, nil
}

func (c *openAIClient) Model() string {
	return c.model
}

func (c *openAIClient) Complete(ctx context.Context, prompt Prompt, out any) (*Usage, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   prompt.SchemaName,
					Schema: prompt.Schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if prompt.Temperature != nil {
		params.Temperature = openai.Float(*prompt.Temperature)
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	usage := &Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         time.Since(start),
	}
	slog.DebugContext(ctx, "llm completion finished",
		"model", c.model,
		"schema", prompt.SchemaName,
		"duration_ms", usage.Duration.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return usage, errors.New("chat completion returned no choices")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return usage, fmt.Errorf("decoding structured answer: %w", err)
	}
	return usage, nil
}

// SchemaFor builds the strict JSON schema of T for structured output.
func SchemaFor[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

func Temp(t float64) *float64 {
	return &t
}

// IsRetryable reports whether a completion error is worth another attempt:
// rate limits, server errors and network failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
