package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/standardbeagle/perfdash/internal/metrics"
)

const systemPrompt = "You are a web performance assistant. Answer briefly using only the metrics snapshot provided. " +
	"Memory values are in MB, storage and transfer sizes in bytes, times in milliseconds."

// ClaudeConfig configures ClaudeFallback.
type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// ClaudeFallback answers unmatched questions with the Anthropic API, giving
// the model the latest snapshot as context.
type ClaudeFallback struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeFallback creates a fallback. An empty API key is an error so
// callers can run without one.
func NewClaudeFallback(cfg ClaudeConfig) (*ClaudeFallback, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assistant: no API key configured")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &ClaudeFallback{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

// Answer implements Fallback.
func (c *ClaudeFallback) Answer(ctx context.Context, question string, latest *metrics.Snapshot) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(question, latest))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func buildPrompt(question string, latest *metrics.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("Latest metrics snapshot:\n")
	if data, err := json.Marshal(latest); err == nil {
		sb.Write(data)
	} else {
		sb.WriteString("{}")
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}
