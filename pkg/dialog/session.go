package dialog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AgentConfig is the read-only agent-configuration record (spec.md §6.4).
// The dialog package never mutates it; pkg/agent owns persistence.
type AgentConfig struct {
	ID               string
	Name             string
	Voice            Voice
	SpeakingSpeed    float64
	Greeting         string
	SystemPrompt     string
	TonePreset       string
	LLMModel         string
	KnowledgeText    string
	GuardrailEnabled bool // restrict answers to KnowledgeText
	InjectTime       bool
	InjectCaller     bool
	Timezone         string
}

// AudioChunkRef is the opaque reference to a synthesized audio artifact
// (spec.md §3, "Audio chunk reference").
type AudioChunkRef struct {
	ID           string
	DurationHint time.Duration
	TextSpan     string
	UnitIndex    int
	Generation   uint64
}

// Turn is one complete user-utterance-plus-agent-reply exchange.
type Turn struct {
	ID              string
	Generation      uint64
	UserTranscript  string
	AssistantText   string
	Interrupted     bool
	StartedAt       time.Time
	EndedAt         time.Time
	AudioChunkRefs  []AudioChunkRef
}

// Session is the per-connection state exclusively owned by the turn
// controller (C4). Every field it exposes for concurrent read is guarded
// by mu; callers outside the controller goroutine must use the accessors.
type Session struct {
	mu sync.RWMutex

	ID     string
	Agent  AgentConfig
	Config Config

	history    []Message
	generation uint64
	current    *Turn

	createdAt  time.Time
	lastActive time.Time
}

// NewSession creates a session bound to an immutable agent configuration
// snapshot, per spec.md §3.
func NewSession(agent AgentConfig, cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Agent:      agent,
		Config:     cfg,
		createdAt:  now,
		lastActive: now,
	}
}

// Generation returns the session's current generation counter.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// NextGeneration increments and returns the new generation. Called on
// barge-in (a VAD speech_start, an `interrupt` control frame or a text
// message arriving while a turn is active); an `interrupt` frame received
// while idle does not advance it (spec.md §3 invariant 3: monotone, never
// reused).
func (s *Session) NextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// Touch records activity for idle-timeout purposes.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// IdleFor reports how long the session has had no audio or control activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActive)
}

// History returns a defensive copy of the dialog history.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// StartTurn opens a new turn at the session's current generation. Any
// previously open turn is assumed already closed by the caller (the turn
// controller is the only writer and enforces invariant 1: at most one
// active turn).
func (s *Session) StartTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Turn{
		ID:         uuid.NewString(),
		Generation: s.generation,
		StartedAt:  time.Now(),
	}
	s.current = t
	return t
}

// CurrentTurn returns the in-flight turn, or nil.
func (s *Session) CurrentTurn() *Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AppendUserTurn records the user side of a turn in history and marks the
// turn's transcript. Called once, at end-of-utterance (LISTENING ->
// GENERATING), per spec.md §4.4.
func (s *Session) AppendUserTurn(t *Turn, transcript string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UserTranscript = transcript
	s.history = append(s.history, Message{Role: RoleUser, Content: transcript, TurnID: t.ID})
	s.trimHistoryLocked()
}

// AppendAssistantFragment accumulates streamed LLM text onto the turn. It
// does not touch history — history only gets the assistant entry once the
// turn closes (spec.md §9, Open Question: history is written at completion,
// never at stream start).
func (s *Session) AppendAssistantFragment(t *Turn, fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.AssistantText += fragment
}

// CloseTurn finalizes the turn: if it produced any assistant text, appends
// it to history (truncated-at-barge-in content is whatever AssistantText
// already holds; the controller appends to it only the units it has handed
// to the egress as text_chunk). A turn with empty assistant text is not added to history
// (spec.md §4.4 tie-break: empty LLM output appends nothing).
func (s *Session) CloseTurn(t *Turn, interrupted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Interrupted = interrupted
	t.EndedAt = time.Now()
	if t.AssistantText != "" {
		s.history = append(s.history, Message{Role: RoleAssistant, Content: t.AssistantText, TurnID: t.ID})
		s.trimHistoryLocked()
	}
	if s.current == t {
		s.current = nil
	}
}

// trimHistoryLocked enforces MaxContextMessages, dropping oldest entries
// first. Callers must hold mu.
func (s *Session) trimHistoryLocked() {
	max := s.Config.MaxContextMessages
	if max <= 0 || len(s.history) <= max {
		return
	}
	s.history = s.history[len(s.history)-max:]
}
