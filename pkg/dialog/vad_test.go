package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentFrame() []byte {
	return make([]byte, FrameBytes)
}

func loudFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := 0; i+1 < len(frame); i += 2 {
		frame[i] = 0xFF
		frame[i+1] = 0x7F // near full-scale positive sample
	}
	return frame
}

func TestVADSilenceNeverSpeaks(t *testing.T) {
	v := NewVAD(DefaultConfig())
	for i := 0; i < 10; i++ {
		event := v.Process(silentFrame(), int64(i)*30)
		assert.Nil(t, event)
	}
	assert.False(t, v.IsSpeaking())
}

func TestVADConfirmsSpeechStartAfterStartFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartFrames = 3
	v := NewVAD(cfg)

	var event *VADEvent
	for i := 0; i < 3; i++ {
		event = v.Process(loudFrame(), int64(i)*30)
	}
	require.NotNil(t, event)
	assert.Equal(t, VADSpeechStart, event.Type)
	assert.True(t, v.IsSpeaking())
}

func TestVADDoesNotFireBeforeStartFramesReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartFrames = 3
	v := NewVAD(cfg)

	event := v.Process(loudFrame(), 0)
	assert.Nil(t, event)
	event = v.Process(loudFrame(), 30)
	assert.Nil(t, event)
	assert.False(t, v.IsSpeaking())
}

func TestVADConfirmsSpeechEndAfterEndFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartFrames = 1
	cfg.SpeechEndFrames = 2
	v := NewVAD(cfg)

	event := v.Process(loudFrame(), 0)
	require.NotNil(t, event)
	require.Equal(t, VADSpeechStart, event.Type)

	event = v.Process(silentFrame(), 30)
	assert.Nil(t, event)
	event = v.Process(silentFrame(), 60)
	require.NotNil(t, event)
	assert.Equal(t, VADSpeechEnd, event.Type)
	assert.False(t, v.IsSpeaking())
}

func TestVADResetClearsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartFrames = 1
	v := NewVAD(cfg)

	event := v.Process(loudFrame(), 0)
	require.NotNil(t, event)
	require.True(t, v.IsSpeaking())

	v.Reset()
	assert.False(t, v.IsSpeaking())
	assert.Nil(t, v.DrainRing())
}

func TestVADDrainRingReturnsPreSpeechAudioInOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechStartFrames = 2
	cfg.PreSpeechBufferDur = 90 * FrameDuration
	v := NewVAD(cfg)

	silence1 := silentFrame()
	silence1[0] = 1
	silence2 := silentFrame()
	silence2[0] = 2

	v.Process(silence1, 0)
	v.Process(silence2, 30)

	event := v.Process(loudFrame(), 60)
	assert.Nil(t, event)
	event = v.Process(loudFrame(), 90)
	require.NotNil(t, event)
	assert.Equal(t, VADSpeechStart, event.Type)

	ring := v.DrainRing()
	require.GreaterOrEqual(t, len(ring), FrameBytes*2)
	assert.Equal(t, byte(1), ring[0])
	assert.Equal(t, byte(2), ring[FrameBytes])

	assert.Nil(t, v.DrainRing())
}
