package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// GroqLLM streams chat completions from Groq's OpenAI-compatible endpoint,
// reusing go-openai with a custom base URL rather than hand-rolling another
// HTTP client (the teacher's groq.go implementation was absent from the
// pack; groq_test.go was the only surviving trace of it).
type GroqLLM struct {
	client *openai.Client
	model  string
}

func NewGroqLLM(apiKey, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://api.groq.com/openai/v1"
	return &GroqLLM{client: openai.NewClientWithConfig(cfg), model: model}
}

func (l *GroqLLM) Name() string { return "groq-llm" }

func (l *GroqLLM) StreamComplete(ctx context.Context, messages []dialog.Message, onFragment func(string) error) error {
	req := openai.ChatCompletionRequest{
		Model:    l.model,
		Stream:   true,
		Messages: toOpenAIMessages(messages),
	}

	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("groq stream creation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("groq stream error: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		if err := onFragment(text); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

var _ dialog.LLMProvider = (*GroqLLM)(nil)
