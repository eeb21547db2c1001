package tts

import (
	"context"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// OpenAITTS synthesizes speech via OpenAI's speech endpoint. The API
// returns a single response body rather than a true incremental stream, so
// StreamSynthesize reads it in fixed-size chunks to keep the same
// onChunk-callback shape the rest of the pipeline expects.
type OpenAITTS struct {
	client *openai.Client
	model  openai.SpeechModel

	mu      sync.Mutex
	readers map[io.ReadCloser]struct{}
}

func NewOpenAITTS(apiKey string) *OpenAITTS {
	return &OpenAITTS{
		client:  openai.NewClient(apiKey),
		model:   openai.TTSModel1,
		readers: make(map[io.ReadCloser]struct{}),
	}
}

func (t *OpenAITTS) Name() string { return "openai-tts" }

func mapVoice(v dialog.Voice) openai.SpeechVoice {
	switch v {
	case "F1", "F2", "F3", "F4", "F5":
		return openai.VoiceNova
	case "M1", "M2", "M3", "M4", "M5":
		return openai.VoiceOnyx
	default:
		return openai.VoiceAlloy
	}
}

func (t *OpenAITTS) StreamSynthesize(ctx context.Context, text string, voice dialog.Voice, lang string, onChunk func([]byte) error) error {
	resp, err := t.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          t.model,
		Input:          text,
		Voice:          mapVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return fmt.Errorf("openai tts request failed: %w", err)
	}

	t.mu.Lock()
	t.readers[resp] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.readers, resp)
		t.mu.Unlock()
		resp.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Read(buf)
		if n > 0 {
			if cbErr := onChunk(buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts read failed: %w", err)
		}
	}
}

// Abort closes every response body currently being read, so a barge-in
// doesn't wait for CreateSpeech's full response to drain.
func (t *OpenAITTS) Abort() error {
	t.mu.Lock()
	readers := make([]io.ReadCloser, 0, len(t.readers))
	for r := range t.readers {
		readers = append(readers, r)
	}
	t.readers = make(map[io.ReadCloser]struct{})
	t.mu.Unlock()

	for _, r := range readers {
		r.Close()
	}
	return nil
}

var _ dialog.TTSProvider = (*OpenAITTS)(nil)
