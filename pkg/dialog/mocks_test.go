package dialog

import (
	"context"
	"sync"
)

// mockSTTProvider is a no-op streaming STT stub: it accepts frames on the
// returned channel but never calls onTranscript on its own (tests that need
// a transcript call onFinalTranscript directly through the controller).
type mockSTTProvider struct {
	lastChan chan []byte
}

func (m *mockSTTProvider) Name() string { return "mock-stt" }

func (m *mockSTTProvider) StreamTranscribe(ctx context.Context, lang string, onTranscript func(string, bool) error) (chan<- []byte, error) {
	ch := make(chan []byte, 64)
	m.lastChan = ch
	go func() {
		for range ch {
			// discard; tests drive transcripts directly
		}
	}()
	return ch, nil
}

type mockLLMProvider struct {
	fragments []string
	err       error
}

func (m *mockLLMProvider) Name() string { return "mock-llm" }

func (m *mockLLMProvider) StreamComplete(ctx context.Context, messages []Message, onFragment func(string) error) error {
	for _, f := range m.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return m.err
}

type mockTTSProvider struct {
	chunk     []byte
	err       error
	abortedCh chan struct{}
}

func (m *mockTTSProvider) Name() string { return "mock-tts" }

func (m *mockTTSProvider) StreamSynthesize(ctx context.Context, text string, voice Voice, lang string, onChunk func([]byte) error) error {
	if m.err != nil {
		return m.err
	}
	return onChunk(m.chunk)
}

func (m *mockTTSProvider) Abort() error {
	if m.abortedCh != nil {
		close(m.abortedCh)
	}
	return nil
}

func testAgentConfig() AgentConfig {
	return AgentConfig{
		ID:           "a1",
		Name:         "Test Agent",
		Voice:        "F1",
		Greeting:     "Hello!",
		SystemPrompt: "You are a helpful assistant.",
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	return "/audio/fake", nil
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []OutMessage
}

func (s *recordingSink) Send(ctx context.Context, msg OutMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) snapshot() []OutMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}
