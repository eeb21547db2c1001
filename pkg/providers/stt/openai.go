package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// OpenAISTT transcribes a whole utterance via OpenAI's Whisper endpoint.
type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func NewOpenAISTT(apiKey, model string, sampleRate int) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &OpenAISTT{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: sampleRate,
	}
}

func (s *OpenAISTT) Name() string { return "openai-stt" }

func (s *OpenAISTT) StreamTranscribe(ctx context.Context, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	return streamBatch(ctx, s.sampleRate, s, lang, onTranscript)
}

func (s *OpenAISTT) transcribe(ctx context.Context, wav []byte, lang string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}
	if lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai stt error: %s (status %d)", respBody, resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

var _ dialog.STTProvider = (*OpenAISTT)(nil)
