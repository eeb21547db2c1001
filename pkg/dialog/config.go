package dialog

import "time"

// Config holds the tunables named throughout spec.md §2-§5. Defaults match
// the spec's stated defaults exactly; DefaultConfig is the only place those
// numbers should appear as literals.
type Config struct {
	SampleRate int // required inbound sample rate, Hz (8000 per spec.md §4.1)
	Channels   int // required inbound channel count (1)

	MaxContextMessages int // dialog history cap, oldest entries dropped first

	// VAD (C2)
	VADAggressiveness  int           // 0-3, default 2
	SpeechStartFrames  int           // consecutive speech frames to confirm start, default 3
	SpeechEndFrames    int           // consecutive non-speech frames to confirm end, default ~27
	PreSpeechBufferDur time.Duration // ring buffer retained before speech_start, default 150ms

	// Response chunker (C6)
	ChunkSoftCap int // forced-unit threshold in characters, default 240

	// TTS synthesizer (C7)
	TTSMaxConcurrency int // K, default 3

	// Timeouts (§5)
	IdleSessionTimeout time.Duration // default 10min
	LLMStartTimeout    time.Duration // default 30s
	TTSUnitTimeout     time.Duration // default 20s
	STTIdleTimeout     time.Duration // default 60s during LISTENING

	// Audio artifact cache (C9)
	ArtifactTTL     time.Duration // default 5min
	ArtifactMaxSize int64         // soft size bound in bytes before LRU eviction kicks in
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate: 8000,
		Channels:   1,

		MaxContextMessages: 40,

		VADAggressiveness:  2,
		SpeechStartFrames:  3,
		SpeechEndFrames:    27,
		PreSpeechBufferDur: 150 * time.Millisecond,

		ChunkSoftCap: 240,

		TTSMaxConcurrency: 3,

		IdleSessionTimeout: 10 * time.Minute,
		LLMStartTimeout:    30 * time.Second,
		TTSUnitTimeout:     20 * time.Second,
		STTIdleTimeout:     60 * time.Second,

		ArtifactTTL:     5 * time.Minute,
		ArtifactMaxSize: 256 * 1024 * 1024,
	}
}

// FrameDuration is the fixed VAD frame size (30ms at 8kHz, 16-bit mono).
const FrameDuration = 30 * time.Millisecond

// FrameSamples is the sample count of one 30ms frame at 8kHz.
const FrameSamples = 240

// FrameBytes is the byte length of one 30ms frame (16-bit samples).
const FrameBytes = FrameSamples * 2
