package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// OpenAILLM streams chat completions via go-openai's chat completion
// streaming API.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAILLM{client: openai.NewClient(apiKey), model: model}
}

func (l *OpenAILLM) Name() string { return "openai-llm" }

func (l *OpenAILLM) StreamComplete(ctx context.Context, messages []dialog.Message, onFragment func(string) error) error {
	req := openai.ChatCompletionRequest{
		Model:    l.model,
		Stream:   true,
		Messages: toOpenAIMessages(messages),
	}

	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("openai stream creation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream error: %w", err)
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

func toOpenAIMessages(messages []dialog.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case dialog.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case dialog.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

var _ dialog.LLMProvider = (*OpenAILLM)(nil)
