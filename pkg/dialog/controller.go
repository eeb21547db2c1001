package dialog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// tracer emits one span per turn (spec.md §12 "per-turn latency
// instrumentation"), replacing the teacher's bespoke GetLatencyBreakdown
// struct with span attributes on a real trace.
var tracer = otel.Tracer("github.com/lokutor-ai/voxdialog/pkg/dialog")

// State is one of the turn controller's explicit states (spec.md §4.4).
// It replaces the teacher's scattered isSpeaking/isThinking booleans with
// a single authoritative field.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateGenerating   State = "generating"
	StateSpeakingTail State = "speaking_tail"
)

// ArtifactPublisher stores synthesized audio and returns a client-fetchable
// URL. Implemented by pkg/artifact; kept as a narrow interface so the
// dialog package stays decoupled from HTTP routing (C9's concern).
type ArtifactPublisher interface {
	Publish(ctx context.Context, sessionID string, data []byte, contentType string) (url string, err error)
}

// Controller is the per-session turn controller (C4): the sole mutator of
// session state, VAD-driven barge-in, and the state machine of spec.md
// §4.4. One Controller is created per client connection.
type Controller struct {
	mu sync.Mutex

	session   *Session
	stt       STTProvider
	llm       LLMProvider
	tts       TTSProvider
	egress    *Egress
	artifacts ArtifactPublisher
	logger    Logger
	cfg       Config

	state State
	vad   *VAD
	echo  *echoSuppressor

	frameBuf []byte

	sttChan       chan<- []byte
	sttCancel     context.CancelFunc
	sttGeneration uint64

	turnCancel context.CancelFunc

	closed bool
}

// NewController wires the nine components for one session. publisher may
// be nil if the caller never expects TTS audio (e.g. text-only testing).
func NewController(session *Session, stt STTProvider, llm LLMProvider, tts TTSProvider, egress *Egress, publisher ArtifactPublisher, logger Logger) *Controller {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Controller{
		session:   session,
		stt:       stt,
		llm:       llm,
		tts:       tts,
		egress:    egress,
		artifacts: publisher,
		logger:    logger,
		cfg:       session.Config,
		state:     StateIdle,
		vad:       NewVAD(session.Config),
		echo:      newEchoSuppressor(),
	}
}

// State returns the controller's current state (for tests/metrics).
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Greet emits the agent's configured greeting, if any, as agent_greeting
// followed by greeting_audio (spec.md S1).
func (c *Controller) Greet(ctx context.Context) {
	greeting := strings.TrimSpace(c.session.Agent.Greeting)
	if greeting == "" {
		return
	}
	gen := c.session.Generation()
	c.egress.Enqueue(OutMessage{Type: OutAgentGreeting, Text: greeting, Generation: gen})

	if c.tts == nil || c.artifacts == nil {
		return
	}
	go func() {
		audio, err := c.synthesizeWhole(ctx, greeting)
		if err != nil {
			c.logger.Warn("greeting synthesis failed", "sessionID", c.session.ID, "error", err)
			return
		}
		if c.session.Generation() != gen {
			return
		}
		c.echo.recordPlayed(audio)
		url, err := c.artifacts.Publish(ctx, c.session.ID, audio, "audio/wav")
		if err != nil {
			c.logger.Warn("greeting artifact publish failed", "sessionID", c.session.ID, "error", err)
			return
		}
		c.egress.Enqueue(OutMessage{Type: OutGreetingAudio, Text: greeting, AudioURL: url, Generation: gen})
	}()
}

func (c *Controller) synthesizeWhole(ctx context.Context, text string) ([]byte, error) {
	var buf []byte
	err := c.tts.StreamSynthesize(ctx, text, c.session.Agent.Voice, "", func(chunk []byte) error {
		buf = append(buf, chunk...)
		return nil
	})
	return buf, err
}

// HandleControlFrame dispatches a decoded client->server control frame
// (spec.md §4.1). audio_config is expected to have already been validated
// by the transport layer during the connection handshake.
func (c *Controller) HandleControlFrame(ctx context.Context, cf *ControlFrame) error {
	c.session.Touch()
	switch cf.Type {
	case InCallStarted:
		return nil
	case InAgentConfig:
		return nil // agent selection happens before Controller construction
	case InMessage:
		return c.handleTextMessage(ctx, cf.Content)
	case InInterrupt:
		c.bargeIn(ctx, "interrupt_frame")
		return nil
	case InAudioPlaybackComplete:
		return nil
	default:
		c.logger.Warn("ignoring unknown control frame", "sessionID", c.session.ID, "type", cf.Type)
		return nil
	}
}

// handleTextMessage implements the `message` shortcut (spec.md §6.1): a
// text-only user turn that bypasses C1(audio)->C2->C3 entirely.
func (c *Controller) handleTextMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	if c.state == StateGenerating || c.state == StateSpeakingTail {
		c.mu.Unlock()
		c.bargeIn(ctx, "text_message")
		c.mu.Lock()
	}
	c.state = StateGenerating
	gen := c.session.Generation()
	turn := c.session.StartTurn()
	c.mu.Unlock()

	c.session.AppendUserTurn(turn, content)
	c.egress.Enqueue(OutMessage{Type: OutUserTranscript, Text: content, Generation: gen})
	c.egress.Enqueue(OutMessage{Type: OutStreamStart, Generation: gen})

	c.runGeneration(ctx, gen, turn)
	return nil
}

// HandleAudio feeds raw inbound PCM to the VAD, 30ms frame at a time
// (spec.md §4.2). Arbitrary write sizes are accumulated into frameBuf.
func (c *Controller) HandleAudio(ctx context.Context, pcm []byte) error {
	c.session.Touch()
	c.mu.Lock()
	c.frameBuf = append(c.frameBuf, pcm...)
	var frames [][]byte
	for len(c.frameBuf) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, c.frameBuf[:FrameBytes])
		frames = append(frames, frame)
		c.frameBuf = c.frameBuf[FrameBytes:]
	}
	c.mu.Unlock()

	for _, frame := range frames {
		c.processFrame(ctx, frame)
	}
	return nil
}

func (c *Controller) processFrame(ctx context.Context, frame []byte) {
	clean := frame
	if c.echo.isEcho(frame) {
		clean = make([]byte, len(frame)) // treat as silence, still clocks the end-of-speech timer
	}

	event := c.vad.Process(clean, time.Now().UnixMilli())
	if event != nil {
		switch event.Type {
		case VADSpeechStart:
			c.onSpeechStart(ctx)
		case VADSpeechEnd:
			c.onSpeechEnd(ctx)
		}
	}

	c.mu.Lock()
	sttChan := c.sttChan
	c.mu.Unlock()

	if sttChan != nil {
		select {
		case sttChan <- clean:
		default:
		}
	}
}

// onSpeechStart handles a confirmed VAD speech_start edge: from IDLE it
// begins a normal listening turn; from GENERATING/SPEAKING_TAIL it is a
// barge-in (spec.md §4.4).
func (c *Controller) onSpeechStart(ctx context.Context) {
	c.mu.Lock()
	prior := c.state
	c.mu.Unlock()

	if prior == StateGenerating || prior == StateSpeakingTail {
		c.bargeIn(ctx, "vad_speech_start")
	}

	c.egress.Enqueue(OutMessage{Type: OutSpeechStart, Generation: c.session.Generation()})

	c.mu.Lock()
	c.state = StateListening
	c.mu.Unlock()

	c.startSTT(ctx)
}

// onSpeechEnd stops forwarding frames to the STT provider but does not
// cancel its context: the provider is left to flush a final transcript for
// audio already sent, bounded by cfg.STTIdleTimeout (spec.md §4.3, §5).
func (c *Controller) onSpeechEnd(ctx context.Context) {
	c.egress.Enqueue(OutMessage{Type: OutSpeechEnd, Generation: c.session.Generation()})
	c.mu.Lock()
	ch := c.sttChan
	c.sttChan = nil
	c.mu.Unlock()
	// Closing signals end-of-utterance: streaming providers finalize and
	// stop sending; batch providers transcribe the buffered audio.
	if ch != nil {
		close(ch)
	}
}

// startSTT opens a streaming STT session for the current generation and
// flushes the VAD's pre-speech ring buffer into it first, so early speech
// isn't cropped (spec.md §4.2).
func (c *Controller) startSTT(ctx context.Context) {
	if c.stt == nil {
		return
	}
	sttCtx, cancel := context.WithTimeout(ctx, c.cfg.STTIdleTimeout)
	gen := c.session.Generation()

	c.mu.Lock()
	c.sttGeneration++
	myGeneration := c.sttGeneration
	c.sttCancel = cancel
	c.mu.Unlock()

	ch, err := c.stt.StreamTranscribe(sttCtx, "", func(transcript string, isFinal bool) error {
		c.mu.Lock()
		stale := c.sttGeneration != myGeneration
		c.mu.Unlock()
		if stale || c.session.Generation() != gen {
			return nil
		}
		if isFinal {
			c.onFinalTranscript(ctx, gen, transcript)
		} else if strings.TrimSpace(transcript) != "" {
			c.egress.Enqueue(OutMessage{Type: OutInterimTranscript, Text: transcript, Generation: gen})
		}
		return nil
	})
	if err != nil {
		cancel()
		c.egress.Enqueue(OutMessage{Type: OutError, ErrorKind: string(KindProviderTransient), Text: fmt.Sprintf("stt_failed: %v", err), Generation: gen})
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}

	pre := c.vad.DrainRing()
	if len(pre) > 0 {
		select {
		case ch <- pre:
		default:
		}
	}

	c.mu.Lock()
	c.sttChan = ch
	c.mu.Unlock()
}

// onFinalTranscript is the LISTENING -> GENERATING transition (spec.md
// §4.4). A final transcript whose generation is stale is discarded by the
// caller before this is reached.
func (c *Controller) onFinalTranscript(ctx context.Context, gen uint64, transcript string) {
	if strings.TrimSpace(transcript) == "" {
		// speech_end without a final transcript of substance: discard, stay IDLE.
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.state == StateGenerating || c.state == StateSpeakingTail {
		c.mu.Unlock()
		// Extremely late final_transcript racing a newer generation; the
		// gen check above already filters strictly-older generations, so
		// reaching here means it raced a barge-in at the same instant.
		// Treat conservatively as stale.
		return
	}
	c.state = StateGenerating
	turn := c.session.StartTurn()
	c.mu.Unlock()

	c.session.AppendUserTurn(turn, transcript)
	c.egress.Enqueue(OutMessage{Type: OutUserTranscript, Text: transcript, Generation: gen})
	c.egress.Enqueue(OutMessage{Type: OutStreamStart, Generation: gen})

	c.runGeneration(ctx, gen, turn)
}

// runGeneration drives GENERATING -> SPEAKING_TAIL -> IDLE for one turn:
// LLM stream -> response chunker -> TTS pipeline -> egress.
func (c *Controller) runGeneration(ctx context.Context, gen uint64, turn *Turn) {
	genCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()

		turnStart := time.Now()
		spanCtx, span := tracer.Start(genCtx, "dialog.turn")
		span.SetAttributes(
			attribute.String("session.id", c.session.ID),
			attribute.String("turn.id", turn.ID),
			attribute.Int64("turn.generation", int64(gen)),
		)
		defer span.End()
		genCtx = spanCtx

		chunker := NewResponseChunker(c.cfg.ChunkSoftCap, gen)
		pipeline := newTTSPipeline(c, gen, turn, c.cfg.TTSMaxConcurrency)

		// llmCtx bounds only the wait for the first fragment (spec.md §5
		// LLMStartTimeout): startTimer cancels llmCtx if StreamComplete's
		// callback hasn't fired by the deadline, but is stopped the moment
		// it does, so a slow-to-finish (rather than slow-to-start) stream
		// is unaffected.
		llmCtx, cancelLLMStart := context.WithCancel(genCtx)
		defer cancelLLMStart()
		var startTimedOut atomic.Bool
		startTimer := time.AfterFunc(c.cfg.LLMStartTimeout, func() {
			startTimedOut.Store(true)
			cancelLLMStart()
		})

		var firstFragmentAt time.Time
		var fragErr error
		if c.llm != nil {
			fragErr = c.llm.StreamComplete(llmCtx, c.session.History(), func(text string) error {
				if c.session.Generation() != gen {
					return context.Canceled
				}
				if firstFragmentAt.IsZero() {
					startTimer.Stop()
					firstFragmentAt = time.Now()
					span.SetAttributes(attribute.Float64("turn.time_to_first_token_seconds", firstFragmentAt.Sub(turnStart).Seconds()))
				}
				for _, unit := range chunker.Feed(text) {
					c.session.AppendAssistantFragment(turn, unit.Text)
					c.egress.Enqueue(OutMessage{Type: OutTextChunk, Text: unit.Text, UnitIndex: unit.Index, Generation: gen})
					pipeline.submit(genCtx, unit)
				}
				return nil
			})
		}
		startTimer.Stop()

		if startTimedOut.Load() && firstFragmentAt.IsZero() && c.session.Generation() == gen {
			c.logger.Warn("llm start timeout", "sessionID", c.session.ID, "timeout", c.cfg.LLMStartTimeout)
			c.egress.Enqueue(OutMessage{Type: OutError, ErrorKind: string(KindTimeout), Text: "llm_start_timeout", Generation: gen})
		} else if fragErr != nil && genCtx.Err() == nil {
			c.logger.Warn("llm stream ended with error", "sessionID", c.session.ID, "error", fragErr)
			c.egress.Enqueue(OutMessage{Type: OutError, ErrorKind: string(KindProviderTransient), Text: fmt.Sprintf("llm_partial_failure: %v", fragErr), Generation: gen})
		}

		for _, unit := range chunker.Flush() {
			c.session.AppendAssistantFragment(turn, unit.Text)
			c.egress.Enqueue(OutMessage{Type: OutTextChunk, Text: unit.Text, UnitIndex: unit.Index, Generation: gen})
			pipeline.submit(genCtx, unit)
		}

		c.mu.Lock()
		if c.state == StateGenerating {
			c.state = StateSpeakingTail
		}
		c.mu.Unlock()

		pipeline.wait(genCtx)

		span.SetAttributes(attribute.Float64("turn.end_to_end_latency_seconds", time.Since(turnStart).Seconds()))

		if c.session.Generation() != gen {
			return // superseded; stream_complete for this generation already dropped by egress
		}

		interrupted := turn.Interrupted
		span.SetAttributes(attribute.Bool("turn.interrupted", interrupted))
		c.session.CloseTurn(turn, interrupted)
		c.egress.Enqueue(OutMessage{
			Type:        OutStreamComplete,
			FullText:    turn.AssistantText,
			Interrupted: interrupted,
			Generation:  gen,
		})

		c.mu.Lock()
		if c.state == StateSpeakingTail || c.state == StateGenerating {
			c.state = StateIdle
		}
		c.turnCancel = nil
		c.mu.Unlock()
	}()
}

// bargeIn implements the GENERATING/SPEAKING_TAIL -> BARGED transition
// (spec.md §4.4): increments the generation, cancels in-flight LLM/TTS
// work, marks the current turn interrupted-and-truncated, and tells the
// egress to drop stale queued content and hint client-side playback abort.
// Idempotent: calling it from IDLE, or a generation already superseded, is
// a no-op (spec.md §8 "multiple back-to-back interrupt frames").
func (c *Controller) bargeIn(ctx context.Context, source string) {
	c.mu.Lock()
	if c.state == StateIdle && c.sttChan == nil {
		c.mu.Unlock()
		return
	}
	turnCancel := c.turnCancel
	sttCancel := c.sttCancel
	c.turnCancel = nil
	c.sttCancel = nil
	c.sttChan = nil
	c.mu.Unlock()

	newGen := c.session.NextGeneration()
	c.logger.Info("barge-in", "sessionID", c.session.ID, "source", source, "generation", newGen)

	if turnCancel != nil {
		turnCancel()
	}
	if sttCancel != nil {
		sttCancel()
	}
	if c.tts != nil {
		if err := c.tts.Abort(); err != nil {
			c.logger.Warn("tts abort failed", "sessionID", c.session.ID, "error", err)
		}
	}

	if t := c.session.CurrentTurn(); t != nil {
		c.session.CloseTurn(t, true)
	}

	c.egress.AdvanceGeneration(newGen)
	c.echo.clear()
	c.vad.Reset()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// Close tears down the controller's in-flight work. Safe to call once;
// the caller (pkg/transport) owns the session's lifetime otherwise.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	turnCancel := c.turnCancel
	sttCancel := c.sttCancel
	c.mu.Unlock()

	if turnCancel != nil {
		turnCancel()
	}
	if sttCancel != nil {
		sttCancel()
	}
	c.egress.Close()
}

// ttsPipeline bounds concurrent synthesis to K units (spec.md §4.7) while
// guaranteeing audio_chunk is emitted to the egress in strict unit-index
// order (spec.md §4.8 ordering rule 3), regardless of synthesis completion
// order.
type ttsPipeline struct {
	c    *Controller
	gen  uint64
	turn *Turn
	sem  *semaphore.Weighted

	mu         sync.Mutex
	pending    map[int]ttsResult
	nextToSend int
	wg         sync.WaitGroup
}

type ttsResult struct {
	unit     SynthesisUnit
	audioURL string
	ok       bool
}

func newTTSPipeline(c *Controller, gen uint64, turn *Turn, k int) *ttsPipeline {
	if k < 1 {
		k = 1
	}
	return &ttsPipeline{
		c:       c,
		gen:     gen,
		turn:    turn,
		sem:     semaphore.NewWeighted(int64(k)),
		pending: make(map[int]ttsResult),
	}
}

// submit dispatches unit for synthesis, blocking only if K units are
// already in flight (bounded pipelining).
func (p *ttsPipeline) submit(ctx context.Context, unit SynthesisUnit) {
	if p.c.tts == nil || p.c.artifacts == nil {
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		unitCtx, cancel := context.WithTimeout(ctx, p.c.cfg.TTSUnitTimeout)
		defer cancel()

		var audio []byte
		err := p.c.tts.StreamSynthesize(unitCtx, unit.Text, p.c.session.Agent.Voice, "", func(chunk []byte) error {
			audio = append(audio, chunk...)
			return nil
		})

		res := ttsResult{unit: unit}
		if err != nil {
			p.c.logger.Warn("tts synthesis failed", "sessionID", p.c.session.ID, "unit", unit.Index, "error", err)
		} else if p.c.session.Generation() == p.gen {
			p.c.echo.recordPlayed(audio)
			url, pubErr := p.c.artifacts.Publish(ctx, p.c.session.ID, audio, "audio/wav")
			if pubErr != nil {
				p.c.logger.Warn("artifact publish failed", "sessionID", p.c.session.ID, "unit", unit.Index, "error", pubErr)
			} else {
				res.audioURL = url
				res.ok = true
			}
		}

		p.deliver(res)
	}()
}

// deliver records a completed unit's result and releases any now-ready
// contiguous prefix of results to the egress, in order.
func (p *ttsPipeline) deliver(res ttsResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[res.unit.Index] = res

	for {
		next, ok := p.pending[p.nextToSend]
		if !ok {
			return
		}
		delete(p.pending, p.nextToSend)
		p.nextToSend++

		if p.c.session.Generation() != p.gen {
			continue
		}
		if next.ok {
			p.turn.AudioChunkRefs = append(p.turn.AudioChunkRefs, AudioChunkRef{
				ID:        next.audioURL,
				TextSpan:  next.unit.Text,
				UnitIndex: next.unit.Index,
				Generation: p.gen,
			})
			p.c.egress.Enqueue(OutMessage{
				Type:       OutAudioChunk,
				AudioURL:   next.audioURL,
				Text:       next.unit.Text,
				UnitIndex:  next.unit.Index,
				Generation: p.gen,
			})
		}
	}
}

// wait blocks until every submitted unit has completed (success or
// failure) or ctx is cancelled.
func (p *ttsPipeline) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
