package dialog

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var egressQueueDepth, _ = otel.Meter("github.com/lokutor-ai/voxdialog/pkg/dialog").
	Int64UpDownCounter("dialog.egress.queue_depth", metric.WithDescription("number of messages currently buffered in a session's egress queue"))

// OutType is the `type` discriminator of a server->client message
// (spec.md §4.8).
type OutType string

const (
	OutUserTranscript     OutType = "user_transcript"
	OutInterimTranscript  OutType = "interim_transcript"
	OutStreamStart        OutType = "stream_start"
	OutTextChunk          OutType = "text_chunk"
	OutAudioChunk         OutType = "audio_chunk"
	OutStreamComplete     OutType = "stream_complete"
	OutSpeechStart        OutType = "speech_start"
	OutSpeechEnd          OutType = "speech_end"
	OutAgentGreeting      OutType = "agent_greeting"
	OutGreetingAudio      OutType = "greeting_audio"
	OutStopAudioImmediate OutType = "stop_audio_immediately"
	OutError              OutType = "error"
)

// OutMessage is one server->client message. Every message carries the
// generation at which it was produced (spec.md §3 invariant 4); the egress
// multiplexer uses Generation to silently drop superseded work.
type OutMessage struct {
	Type        OutType `json:"type"`
	Text        string  `json:"text,omitempty"`
	AudioURL    string  `json:"audio_url,omitempty"`
	UnitIndex   int     `json:"unit_index,omitempty"`
	FullText    string  `json:"full_text,omitempty"`
	Interrupted bool    `json:"interrupted,omitempty"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	Generation  uint64  `json:"generation"`
}

// Sink is the single network writer a session's Egress multiplexer drains
// into. Implemented by pkg/transport over the client's duplex connection.
type Sink interface {
	Send(ctx context.Context, msg OutMessage) error
}

// Egress is the single writer to a session's client transport
// (spec.md §4.8, §9 "single-writer egress"). It owns an internal FIFO so
// that a generation bump can drop already-queued stale-generation messages
// from the head of the queue, not just filter them at send time.
type Egress struct {
	mu         sync.Mutex
	queue      []OutMessage
	notify     chan struct{}
	currentGen uint64
	closed     bool

	sink   Sink
	logger Logger
}

// NewEgress creates an Egress writing to sink. logger may be nil.
func NewEgress(sink Sink, logger Logger) *Egress {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Egress{
		sink:   sink,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends msg to the outbound queue, stamping Timestamp if unset.
func (e *Egress) Enqueue(msg OutMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, msg)
	e.mu.Unlock()
	egressQueueDepth.Add(context.Background(), 1)
	e.wake()
}

// AdvanceGeneration bumps the egress's notion of "current generation",
// drops any already-queued message whose generation is older, and enqueues
// a stop_audio_immediately marker at the new generation (spec.md §4.8: "an
// implicit boundary is established ... a stop_audio_immediately marker is
// emitted").
func (e *Egress) AdvanceGeneration(gen uint64) {
	e.mu.Lock()
	if gen > e.currentGen {
		e.currentGen = gen
	}
	before := len(e.queue)
	kept := e.queue[:0]
	for _, m := range e.queue {
		if m.Generation >= e.currentGen {
			kept = append(kept, m)
		}
	}
	e.queue = kept
	dropped := before - len(e.queue)
	e.queue = append(e.queue, OutMessage{
		Type:       OutStopAudioImmediate,
		Generation: e.currentGen,
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
	})
	e.mu.Unlock()
	if dropped > 0 {
		egressQueueDepth.Add(context.Background(), int64(-dropped))
	}
	egressQueueDepth.Add(context.Background(), 1)
	e.wake()
}

func (e *Egress) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled or Close is called. A
// message is sent only if, at the moment it is dequeued, its generation is
// still >= the egress's current generation — re-checked here (not only at
// Enqueue time) because a barge-in can advance the generation while a
// message already sat queued.
func (e *Egress) Run(ctx context.Context) {
	for {
		msg, ok := e.dequeue()
		if !ok {
			if e.isClosed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-e.notify:
				continue
			}
		}

		e.mu.Lock()
		stale := msg.Generation < e.currentGen
		e.mu.Unlock()
		if stale {
			continue
		}

		if err := e.sink.Send(ctx, msg); err != nil {
			e.logger.Warn("egress send failed", "type", msg.Type, "error", err)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (e *Egress) dequeue() (OutMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return OutMessage{}, false
	}
	msg := e.queue[0]
	e.queue = e.queue[1:]
	egressQueueDepth.Add(context.Background(), -1)
	return msg, true
}

// Close stops accepting new messages and causes Run to return once the
// queue drains. Safe to call once; subsequent Enqueue calls are no-ops.
func (e *Egress) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wake()
}

func (e *Egress) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
