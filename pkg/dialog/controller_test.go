package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, llm *mockLLMProvider, tts *mockTTSProvider) (*Controller, *recordingSink) {
	t.Helper()
	session := NewSession(testAgentConfig(), DefaultConfig())
	sink := &recordingSink{}
	egress := NewEgress(sink, nil)
	ctrl := NewController(session, &mockSTTProvider{}, llm, tts, egress, noopPublisher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go egress.Run(ctx)

	return ctrl, sink
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestGreetEmitsGreetingThenAudio(t *testing.T) {
	tts := &mockTTSProvider{chunk: []byte{1, 2, 3}}
	ctrl, sink := newTestController(t, &mockLLMProvider{}, tts)

	ctrl.Greet(context.Background())

	waitFor(t, time.Second, func() bool {
		msgs := sink.snapshot()
		return len(msgs) >= 2
	})

	msgs := sink.snapshot()
	assert.Equal(t, OutAgentGreeting, msgs[0].Type)
	assert.Equal(t, "Hello!", msgs[0].Text)
	assert.Equal(t, OutGreetingAudio, msgs[1].Type)
	assert.Equal(t, "/audio/fake", msgs[1].AudioURL)
}

func TestHandleTextMessageRunsFullTurn(t *testing.T) {
	llm := &mockLLMProvider{fragments: []string{"Hi there. ", "How can I help?"}}
	tts := &mockTTSProvider{chunk: []byte{9}}
	ctrl, sink := newTestController(t, llm, tts)

	err := ctrl.HandleControlFrame(context.Background(), &ControlFrame{Type: InMessage, Content: "hello"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return ctrl.State() == StateIdle })

	var types []OutType
	for _, m := range sink.snapshot() {
		types = append(types, m.Type)
	}
	assert.Contains(t, types, OutUserTranscript)
	assert.Contains(t, types, OutStreamStart)
	assert.Contains(t, types, OutStreamComplete)
}

func TestBargeInIsIdempotentFromIdle(t *testing.T) {
	ctrl, sink := newTestController(t, &mockLLMProvider{}, &mockTTSProvider{})

	err := ctrl.HandleControlFrame(context.Background(), &ControlFrame{Type: InInterrupt})
	require.NoError(t, err)
	err = ctrl.HandleControlFrame(context.Background(), &ControlFrame{Type: InInterrupt})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, ctrl.State())
	assert.Empty(t, sink.snapshot())
}

// blockingLLMProvider streams one fragment, then waits on release before
// returning, so tests can barge in while the controller is still in
// StateGenerating.
type blockingLLMProvider struct {
	release chan struct{}
}

func (m *blockingLLMProvider) Name() string { return "blocking-llm" }

func (m *blockingLLMProvider) StreamComplete(ctx context.Context, messages []Message, onFragment func(string) error) error {
	if err := onFragment("partial reply"); err != nil {
		return err
	}
	select {
	case <-m.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func TestBargeInDuringGenerationAdvancesGenerationAndAbortsTTS(t *testing.T) {
	abortedCh := make(chan struct{})
	llm := &blockingLLMProvider{release: make(chan struct{})}
	tts := &mockTTSProvider{chunk: []byte{1}, abortedCh: abortedCh}
	ctrl, _ := newTestController(t, nil, tts)
	ctrl.llm = llm

	startGen := ctrl.session.Generation()

	err := ctrl.HandleControlFrame(context.Background(), &ControlFrame{Type: InMessage, Content: "go"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return ctrl.State() == StateGenerating })

	ctrl.bargeIn(context.Background(), "test")

	assert.Greater(t, ctrl.session.Generation(), startGen)
	assert.Equal(t, StateIdle, ctrl.State())

	waitFor(t, time.Second, func() bool {
		select {
		case <-abortedCh:
			return true
		default:
			return false
		}
	})

	close(llm.release)
}
