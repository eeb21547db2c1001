// Package tts provides text-to-speech adapters implementing
// dialog.TTSProvider.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// LokutorTTS synthesizes speech over Lokutor's persistent websocket API.
// Each StreamSynthesize call opens its own connection (rather than sharing
// one connection behind a mutex, as the teacher's CLI-oriented client did)
// so the turn controller's K-way concurrent synthesis pipeline (spec.md
// §4.7) can actually run concurrently instead of serializing on one
// socket.
type LokutorTTS struct {
	apiKey string
	host   string

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (t *LokutorTTS) Name() string { return "lokutor" }

func (t *LokutorTTS) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "wss", Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
	return conn, nil
}

func (t *LokutorTTS) release(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	conn.Close(code, reason)
}

func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice dialog.Voice, lang string, onChunk func([]byte) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"text":    text,
		"voice":   string(voice),
		"lang":    lang,
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.release(conn, websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.release(conn, websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				t.release(conn, websocket.StatusNormalClosure, "")
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				t.release(conn, websocket.StatusNormalClosure, "")
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				t.release(conn, websocket.StatusNormalClosure, "")
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

// Abort forcibly closes every connection currently in flight on this
// provider instance, bounding barge-in cancellation latency below what
// ctx cancellation alone would achieve against a blocking conn.Read
// (spec.md §4.4, §5).
func (t *LokutorTTS) Abort() error {
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[*websocket.Conn]struct{})
	t.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusNormalClosure, "barge-in")
	}
	return nil
}

var _ dialog.TTSProvider = (*LokutorTTS)(nil)
