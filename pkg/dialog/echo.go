package dialog

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// echoSuppressor filters speaker echo out of inbound mic PCM before it
// reaches the VAD. The client plays TTS audio through real speakers while
// continuing to stream mic input over the same duplex connection, so room
// echo of the agent's own voice is a realistic source of false barge-in —
// this is input conditioning for C2, not a numbered component of its own
// (see SPEC_FULL.md §12). Ported and trimmed from the teacher's
// EchoSuppressor: the correlation-based detector is kept, the offline
// PostProcess/export helpers (debug-only in the teacher CLI) are dropped
// since there is no local playback device in the server.
type echoSuppressor struct {
	mu            sync.Mutex
	played        bytes.Buffer
	maxBufBytes   int
	threshold     float64
	silenceWindow time.Duration
	lastPlayedAt  time.Time
}

func newEchoSuppressor() *echoSuppressor {
	return &echoSuppressor{
		maxBufBytes:   8000 * 2 * 2, // ~2s at 8kHz 16-bit mono
		threshold:     0.55,
		silenceWindow: 1200 * time.Millisecond,
	}
}

// recordPlayed records audio the server just told the client to play, so a
// later inbound chunk can be correlated against it.
func (e *echoSuppressor) recordPlayed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played.Write(chunk)
	e.lastPlayedAt = time.Now()
	if e.played.Len() > e.maxBufBytes {
		data := e.played.Bytes()
		trimmed := data[len(data)-e.maxBufBytes:]
		e.played.Reset()
		e.played.Write(trimmed)
	}
}

// isEcho reports whether input correlates strongly with recently played
// audio. Returns false immediately (no copy, no lock contention on the hot
// audio path) once the silence window has elapsed since the last playback.
func (e *echoSuppressor) isEcho(input []byte) bool {
	if len(input) == 0 {
		return false
	}
	e.mu.Lock()
	if time.Since(e.lastPlayedAt) > e.silenceWindow {
		e.mu.Unlock()
		return false
	}
	ref := make([]byte, e.played.Len())
	copy(ref, e.played.Bytes())
	threshold := e.threshold
	e.mu.Unlock()

	if len(ref) == 0 {
		return false
	}
	return correlate(bytesToSamples(input), bytesToSamples(ref)) > threshold
}

// clear resets the played-audio buffer (called on barge-in so stale
// speaker reference audio doesn't falsely flag new speech).
func (e *echoSuppressor) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played.Reset()
	e.lastPlayedAt = time.Time{}
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func energy(samples []float64) float64 {
	var e float64
	for _, s := range samples {
		e += s * s
	}
	return e
}

// correlate computes the normalized cross-correlation of input against the
// tail of reference (accounting for playback-to-mic latency), clamped to
// [0,1].
func correlate(input, reference []float64) float64 {
	if len(input) == 0 || len(reference) == 0 {
		return 0
	}
	n := len(input)
	if n > len(reference) {
		n = len(reference)
	}
	in := input[:n]
	ref := reference[len(reference)-n:]

	inEnergy := energy(in)
	refEnergy := energy(ref)
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}

	var dot float64
	for i := 0; i < n; i++ {
		dot += in[i] * ref[i]
	}
	corr := dot / math.Sqrt(inEnergy*refEnergy)
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}
