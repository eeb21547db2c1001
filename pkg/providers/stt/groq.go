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

// GroqSTT transcribes a whole utterance via Groq's Whisper endpoint.
// Adapted into dialog.STTProvider through streamBatch: one HTTP call per
// utterance, fired when the caller closes the channel at speech_end.
type GroqSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// NewGroqSTT creates a Groq Whisper provider. model defaults to
// whisper-large-v3-turbo.
func NewGroqSTT(apiKey, model string, sampleRate int) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &GroqSTT{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: sampleRate,
	}
}

func (s *GroqSTT) Name() string { return "groq-stt" }

func (s *GroqSTT) StreamTranscribe(ctx context.Context, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	return streamBatch(ctx, s.sampleRate, s, lang, onTranscript)
}

func (s *GroqSTT) transcribe(ctx context.Context, wav []byte, lang string) (string, error) {
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
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
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
		return "", fmt.Errorf("groq stt error (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

var _ dialog.STTProvider = (*GroqSTT)(nil)
