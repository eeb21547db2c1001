// Package stt provides speech-to-text adapters implementing
// dialog.STTProvider.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// deepgramResponseType mirrors the `type` discriminator of Deepgram's
// streaming listen API.
type deepgramResponseType string

const (
	deepgramTypeResults      deepgramResponseType = "Results"
	deepgramTypeUtteranceEnd deepgramResponseType = "UtteranceEnd"
	deepgramTypeSpeechStart  deepgramResponseType = "SpeechStarted"
)

type deepgramResultsResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DeepgramSTT streams inbound PCM to Deepgram's listen websocket API and
// surfaces interim and final transcripts. Grounded on the gorilla/websocket
// based client elsewhere in the pack; replaces the teacher's batch HTTP
// POST (which could not satisfy the spec's streaming requirement).
type DeepgramSTT struct {
	apiKey     string
	sampleRate int
}

// NewDeepgramSTT creates a Deepgram streaming provider. sampleRate must
// match the inbound audio format (8000 per spec).
func NewDeepgramSTT(apiKey string, sampleRate int) *DeepgramSTT {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &DeepgramSTT{apiKey: apiKey, sampleRate: sampleRate}
}

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

// StreamTranscribe opens one Deepgram streaming connection for ctx's
// lifetime. Frames written to the returned channel are forwarded as
// binary websocket messages; interim and final hypotheses invoke
// onTranscript from the connection's own read loop.
func (s *DeepgramSTT) StreamTranscribe(ctx context.Context, lang string, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	listenURL, err := url.Parse("wss://api.deepgram.com/v1/listen")
	if err != nil {
		return nil, err
	}
	q := listenURL.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	q.Set("channels", "1")
	q.Set("model", "nova-3")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("vad_events", "true")
	q.Set("endpointing", "300")
	if lang != "" {
		q.Set("language", lang)
	}
	listenURL.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("deepgram dial failed: %w", err)
	}

	audioCh := make(chan []byte, 32)

	go s.writeLoop(ctx, conn, audioCh)
	go s.readLoop(conn, onTranscript)

	return audioCh, nil
}

func (s *DeepgramSTT) writeLoop(ctx context.Context, conn *websocket.Conn, audioCh <-chan []byte) {
	defer func() {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-audioCh:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *DeepgramSTT) readLoop(conn *websocket.Conn, onTranscript func(string, bool) error) {
	defer conn.Close()
	var accumulated strings.Builder

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}

		switch deepgramResponseType(head.Type) {
		case deepgramTypeResults:
			var resp deepgramResultsResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if len(resp.Channel.Alternatives) == 0 {
				continue
			}
			transcript := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
			if transcript == "" {
				continue
			}
			if resp.IsFinal {
				if accumulated.Len() > 0 {
					accumulated.WriteString(" ")
				}
				accumulated.WriteString(transcript)
				if resp.SpeechFinal {
					_ = onTranscript(strings.TrimSpace(accumulated.String()), true)
					accumulated.Reset()
				}
			} else {
				interim := transcript
				if accumulated.Len() > 0 {
					interim = accumulated.String() + " " + transcript
				}
				_ = onTranscript(interim, false)
			}
		case deepgramTypeUtteranceEnd:
			if accumulated.Len() > 0 {
				_ = onTranscript(strings.TrimSpace(accumulated.String()), true)
				accumulated.Reset()
			}
		}
	}
}

var _ dialog.STTProvider = (*DeepgramSTT)(nil)
