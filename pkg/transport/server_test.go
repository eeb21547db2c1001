package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/voxdialog/pkg/agent"
	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

const testAgentsYAML = `
agents:
  a1:
    name: "Test Agent"
    voice: F1
    greeting: "Hello there!"
    system_prompt: "You are helpful."
`

type stubSTT struct{}

func (stubSTT) Name() string { return "stub-stt" }
func (stubSTT) StreamTranscribe(ctx context.Context, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	ch := make(chan []byte, 8)
	go func() {
		for range ch {
		}
	}()
	return ch, nil
}

type stubLLM struct{}

func (stubLLM) Name() string { return "stub-llm" }
func (stubLLM) StreamComplete(ctx context.Context, messages []dialog.Message, onFragment func(string) error) error {
	return onFragment("ok")
}

type stubTTS struct{}

func (stubTTS) Name() string { return "stub-tts" }
func (stubTTS) StreamSynthesize(ctx context.Context, text string, voice dialog.Voice, lang string, onChunk func([]byte) error) error {
	return onChunk([]byte{1, 2, 3})
}
func (stubTTS) Abort() error { return nil }

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	return "/audio/fake", nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	agents, err := agent.LoadFromReader(strings.NewReader(testAgentsYAML))
	require.NoError(t, err)

	srv := NewServer(agents, Providers{STT: stubSTT{}, LLM: stubLLM{}, TTS: stubTTS{}}, stubPublisher{}, dialog.DefaultConfig(), nil)

	router := mux.NewRouter()
	srv.RegisterRoutes(router, "/ws")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHandshakeAndGreeting(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "audio_config", "sample_rate": 8000, "encoding": "LINEAR16", "channels": 1,
	}))
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "agent_config", "agent_id": "a1",
	}))

	var greeting map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &greeting))
	require.Equal(t, "agent_greeting", greeting["type"])
	require.Equal(t, "Hello there!", greeting["text"])

	var greetingAudio map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &greetingAudio))
	require.Equal(t, "greeting_audio", greetingAudio["type"])
	require.Equal(t, "/audio/fake", greetingAudio["audio_url"])
}

func TestRejectsBadAudioConfig(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "audio_config", "sample_rate": 16000, "encoding": "LINEAR16", "channels": 1,
	}))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
}

func TestTextMessageTurn(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "audio_config", "sample_rate": 8000, "encoding": "LINEAR16", "channels": 1,
	}))
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "agent_config", "agent_id": "a1",
	}))

	// drain the two greeting messages
	var discard map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &discard))
	require.NoError(t, wsjson.Read(ctx, conn, &discard))

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type": "message", "content": "hi",
	}))

	seenUserTranscript := false
	for i := 0; i < 10; i++ {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg["type"] == "user_transcript" {
			seenUserTranscript = true
		}
		if msg["type"] == "stream_complete" {
			break
		}
	}
	require.True(t, seenUserTranscript)
}
