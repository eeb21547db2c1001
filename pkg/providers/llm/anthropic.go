// Package llm provides large-language-model adapters implementing
// dialog.LLMProvider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// AnthropicLLM streams chat completions from Claude models via the
// official SDK, replacing the teacher's hand-rolled single-shot HTTP
// client (which could not satisfy the spec's streaming requirement).
type AnthropicLLM struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicLLM{client: &client, model: model, maxTokens: 1024}
}

func (l *AnthropicLLM) Name() string { return "anthropic-llm" }

func (l *AnthropicLLM) StreamComplete(ctx context.Context, messages []dialog.Message, onFragment func(string) error) error {
	var system string
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case dialog.RoleSystem:
			system = m.Content
		case dialog.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case dialog.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(msgs) == 0 {
		return errors.New("anthropic: no user/assistant messages to send")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: l.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := l.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := onFragment(delta.Text); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("anthropic stream error: %w", err)
	}
	return nil
}

var _ dialog.LLMProvider = (*AnthropicLLM)(nil)
