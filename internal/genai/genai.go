// Package genai wraps the OpenAI chat completions API behind a small client
// that turns a system prompt and a user prompt into one completion string.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default client settings.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
	// DefaultMaxTokens caps completion length; 0 leaves it to the API.
	DefaultMaxTokens = 0
)

// Errors returned by the client.
var (
	ErrNoAPIKey          = errors.New("OPENAI_API_KEY not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	debugMode   bool
	stateDir    string
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the client.
type Option func(*Opts)

func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option { return func(o *Opts) { o.BaseURL = u } }

func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }

// WithMaxTokens caps completion length; 0 leaves it to the API.
func WithMaxTokens(n int64) Option { return func(o *Opts) { o.MaxTokens = n } }

// WithTimeout bounds every completion call.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithDebugMode writes every exchange as JSON under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI client initialized", "model", cfg.Model, "base_url_set", cfg.BaseURL != "", "timeout", cfg.Timeout)

	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate returns the completion for the given system and user prompts.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI completion failed", "error", err, "model", c.model, "elapsed", time.Since(start))
		c.writeDebugLog("Generate", systemPrompt, userPrompt, "", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.writeDebugLog("Generate", systemPrompt, userPrompt, "", ErrNoChoicesReturned)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI completion succeeded", "model", c.model, "elapsed", time.Since(start), "length", len(content))
	c.writeDebugLog("Generate", systemPrompt, userPrompt, content, nil)
	return content, nil
}

type debugEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method"`
	Model     string            `json:"model"`
	Params    map[string]string `json:"params"`
	Response  string            `json:"response"`
	Error     string            `json:"error,omitempty"`
}

func (c *Client) writeDebugLog(method, systemPrompt, userPrompt, response string, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	entry := debugEntry{
		Timestamp: time.Now().UTC(),
		Method:    method,
		Model:     c.model,
		Params:    map[string]string{"system": systemPrompt, "user": userPrompt},
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI debug directory unavailable", "error", err, "dir", dir)
		return
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI debug entry marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405"), uuid.NewString())
	if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
		slog.Warn("GenAI debug entry write failed", "error", err)
	}
}
