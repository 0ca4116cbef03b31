// Package llm talks to the language model that fills templates and edits resume HTML.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/anthropic"
	"github.com/haowjy/meridian-llm-go/providers/lorem"
	"github.com/haowjy/meridian-llm-go/providers/openrouter"

	"resumeforge/internal/config"
	"resumeforge/internal/errcode"
	"resumeforge/internal/metrics"
)

const blockTypeText = "text"

// NewProvider returns the provider named in cfg.
//
// Supported providers:
//   - "anthropic"  - Claude models via the Anthropic API
//   - "openrouter" - any OpenRouter model
//   - "lorem"      - canned responses, no API key required
func NewProvider(cfg config.LLMConfig) (llmprovider.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		p, err := anthropic.NewProvider(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		return p, nil
	case "openrouter":
		p, err := openrouter.NewProvider(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("create openrouter provider: %w", err)
		}
		return p, nil
	case "lorem":
		return lorem.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (supported: anthropic, openrouter, lorem)", cfg.Provider)
	}
}

// Client sends single-turn prompts and returns the concatenated text of the reply.
type Client struct {
	provider llmprovider.Provider
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewClient(provider llmprovider.Provider, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{provider: provider, model: model, timeout: timeout, logger: logger}
}

// Complete sends system and user as one user message. operation labels metrics and logs.
// Network failures and timeouts come back as transport errors.
func (c *Client) Complete(ctx context.Context, operation, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text := strings.TrimSpace(system) + "\n\n" + user
	req := &llmprovider.GenerateRequest{
		Model: c.model,
		Messages: []llmprovider.Message{{
			Role: "user",
			Blocks: []*llmprovider.Block{{
				BlockType:   blockTypeText,
				Sequence:    0,
				TextContent: &text,
			}},
		}},
	}

	log := c.logger.With(
		slog.String("operation", operation),
		slog.String("provider", c.provider.Name().String()),
		slog.String("model", c.model),
	)
	log.Info("sending llm request", slog.Int("prompt_chars", len(text)))

	start := time.Now()
	resp, err := c.provider.GenerateResponse(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		msg := "language model request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out, the resume might be too large or the request too complex"
		}
		wrapped := errcode.Transport(msg, err)
		metrics.ObserveLLM(operation, errcode.KindTransport.String(), elapsed)
		log.Error("llm request failed", slog.Duration("elapsed", elapsed), slog.Any("error", err))
		return "", wrapped
	}

	var sb strings.Builder
	for _, b := range resp.Blocks {
		if b == nil || b.BlockType != blockTypeText || b.TextContent == nil {
			continue
		}
		sb.WriteString(*b.TextContent)
	}
	metrics.ObserveLLM(operation, "ok", elapsed)
	log.Info("llm response received",
		slog.Duration("elapsed", elapsed),
		slog.Int("response_chars", sb.Len()),
		slog.Int("input_tokens", resp.InputTokens),
		slog.Int("output_tokens", resp.OutputTokens),
	)
	return sb.String(), nil
}
