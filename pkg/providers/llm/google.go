package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// GoogleLLM streams Gemini responses via the streamGenerateContent SSE
// endpoint. Kept on net/http rather than google/generative-ai-go per the
// module's dependency plan: the official SDK pulls a large unrelated GCP
// dependency tree for a single call type already well served by a direct
// HTTP request.
type GoogleLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleLLM(apiKey, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":streamGenerateContent",
		model:  model,
	}
}

func (l *GoogleLLM) Name() string { return "google-llm" }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

func (l *GoogleLLM) StreamComplete(ctx context.Context, messages []dialog.Message, onFragment func(string) error) error {
	var contents []googleContent
	var systemParts []googlePart
	for _, m := range messages {
		switch m.Role {
		case dialog.RoleSystem:
			systemParts = append(systemParts, googlePart{Text: m.Content})
		case dialog.RoleAssistant:
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}

	payload := map[string]interface{}{"contents": contents}
	if len(systemParts) > 0 {
		payload["systemInstruction"] = googleContent{Parts: systemParts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?alt=sse&key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event struct {
			Candidates []struct {
				Content googleContent `json:"content"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		for _, cand := range event.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				if err := onFragment(part.Text); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	}
	return scanner.Err()
}

var _ dialog.LLMProvider = (*GoogleLLM)(nil)
