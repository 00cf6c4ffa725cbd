// Package claude implements triage.Provider on the Anthropic API.
package claude

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/prcopilot/internal/triage"
)

// requestTimeout bounds a single classification call. The reply is a small
// JSON object; anything slower than this is better served by the fallback.
const requestTimeout = 60 * time.Second

// Client calls the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude provider with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(requestTimeout),
		),
		model: model,
	}
}

// Send performs one single-shot completion.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude: messages.new: %w", err)
	}

	text := extractText(msg.Content)
	if text == "" {
		return nil, fmt.Errorf("claude: no text block in response (stop_reason=%s)", msg.StopReason)
	}

	return &triage.LLMResponse{
		Text:  text,
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// extractText concatenates the text blocks of a reply. Classification
// requests produce exactly one, but the API contract allows several.
func extractText(blocks []anthropic.ContentBlockUnion) string {
	var out string
	for _, block := range blocks {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
