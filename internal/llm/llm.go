// Package llm models the model-inference capability the pipeline consumes.
// The capability may be absent (no API key, no provider configured); that
// is a typed, testable condition rather than an implicit runtime failure.
// Stages degrade per their own policy when the client is disabled.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/smilezzm/schools-of-professors/internal/config"
	"github.com/smilezzm/schools-of-professors/internal/resilience"
	"github.com/smilezzm/schools-of-professors/pkg/anthropic"
	"github.com/smilezzm/schools-of-professors/pkg/deepseek"
)

// ErrUnavailable is returned by a disabled client.
var ErrUnavailable = errors.New("llm: model inference unavailable")

// systemPrompt constrains every call to pure-JSON output.
const systemPrompt = "You are a precise information extractor. Return JSON only."

// Client is the model-inference capability.
type Client interface {
	// ChatJSON sends one prompt and returns the model's raw text, which
	// callers parse with ExtractObject/ExtractList.
	ChatJSON(ctx context.Context, prompt string, temperature float64) (string, error)

	// Enabled reports whether the capability is usable at all.
	Enabled() bool
}

// FromConfig builds the configured provider, or a disabled client when no
// API key is present.
func FromConfig(cfg *config.Config) Client {
	retry := resilience.DefaultRetryConfig()
	if cfg.LLM.MaxRetries > 0 {
		retry.MaxAttempts = cfg.LLM.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger(cfg.LLM.Provider, "chat")

	timeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second

	switch cfg.LLM.Provider {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return Disabled{}
		}
		return &anthropicClient{
			client:    anthropic.NewClient(cfg.Anthropic.Key),
			model:     cfg.Anthropic.Model,
			maxTokens: int64(cfg.Anthropic.MaxTokens),
			timeout:   timeout,
			retry:     retry,
		}
	default:
		if cfg.DeepSeek.Key == "" {
			return Disabled{}
		}
		return &deepseekClient{
			client: deepseek.NewClient(cfg.DeepSeek.Key,
				deepseek.WithBaseURL(cfg.DeepSeek.BaseURL),
				deepseek.WithModel(cfg.DeepSeek.Model),
				deepseek.WithTimeout(timeout),
			),
			retry: retry,
		}
	}
}

// Disabled is the absent capability.
type Disabled struct{}

func (Disabled) ChatJSON(context.Context, string, float64) (string, error) {
	return "", ErrUnavailable
}
func (Disabled) Enabled() bool { return false }

type deepseekClient struct {
	client deepseek.Client
	retry  resilience.RetryConfig
}

func (c *deepseekClient) Enabled() bool { return true }

func (c *deepseekClient) ChatJSON(ctx context.Context, prompt string, temperature float64) (string, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		resp, err := c.client.ChatCompletion(ctx, deepseek.ChatCompletionRequest{
			Temperature: &temperature,
			Messages: []deepseek.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
}

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	retry     resilience.RetryConfig
}

func (c *anthropicClient) Enabled() bool { return true }

func (c *anthropicClient) ChatJSON(ctx context.Context, prompt string, temperature float64) (string, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, err := c.client.CreateMessage(callCtx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			System:      systemPrompt,
			Temperature: &temperature,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}
