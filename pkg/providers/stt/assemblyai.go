package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// AssemblyAISTT transcribes a whole utterance via AssemblyAI's
// upload-submit-poll flow.
type AssemblyAISTT struct {
	apiKey     string
	sampleRate int
}

func NewAssemblyAISTT(apiKey string, sampleRate int) *AssemblyAISTT {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &AssemblyAISTT{apiKey: apiKey, sampleRate: sampleRate}
}

func (s *AssemblyAISTT) Name() string { return "assemblyai-stt" }

func (s *AssemblyAISTT) StreamTranscribe(ctx context.Context, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	return streamBatch(ctx, s.sampleRate, s, lang, onTranscript)
}

func (s *AssemblyAISTT) transcribe(ctx context.Context, wav []byte, lang string) (string, error) {
	uploadURL, err := s.upload(ctx, wav)
	if err != nil {
		return "", err
	}
	transcriptID, err := s.submit(ctx, uploadURL, lang)
	if err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
			text, status, err := s.getTranscript(ctx, transcriptID)
			if err != nil {
				return "", err
			}
			if status == "completed" {
				return text, nil
			}
			if status == "error" {
				return "", fmt.Errorf("assemblyai transcription failed")
			}
		}
	}
}

func (s *AssemblyAISTT) upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (s *AssemblyAISTT) submit(ctx context.Context, uploadURL, lang string) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if lang != "" {
		payload["language_code"] = lang
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (s *AssemblyAISTT) getTranscript(ctx context.Context, id string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.assemblyai.com/v2/transcript/"+id, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.Text, result.Status, nil
}

var _ dialog.STTProvider = (*AssemblyAISTT)(nil)
