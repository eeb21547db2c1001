package dialog

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sineWave(freqHz, sampleRate, n int, amplitude float64) []byte {
	samples := make([]byte, n*2)
	for i := 0; i < n; i++ {
		tSec := float64(i) / float64(sampleRate)
		v := amplitude * math.Sin(2*math.Pi*float64(freqHz)*tSec)
		s := int16(v * 32767)
		samples[i*2] = byte(s)
		samples[i*2+1] = byte(s >> 8)
	}
	return samples
}

func TestEchoSuppressorNoEchoWithoutPlayback(t *testing.T) {
	e := newEchoSuppressor()
	input := sineWave(400, 8000, 240, 0.8)
	assert.False(t, e.isEcho(input))
}

func TestEchoSuppressorDetectsCorrelatedPlayback(t *testing.T) {
	e := newEchoSuppressor()
	wave := sineWave(400, 8000, 2000, 0.8)
	e.recordPlayed(wave)

	assert.True(t, e.isEcho(wave[:480]))
}

func TestEchoSuppressorIgnoresUncorrelatedInput(t *testing.T) {
	e := newEchoSuppressor()
	e.recordPlayed(sineWave(400, 8000, 2000, 0.8))

	silence := make([]byte, 480)
	assert.False(t, e.isEcho(silence))
}

func TestEchoSuppressorExpiresAfterSilenceWindow(t *testing.T) {
	e := newEchoSuppressor()
	e.silenceWindow = 10 * time.Millisecond
	wave := sineWave(400, 8000, 2000, 0.8)
	e.recordPlayed(wave)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, e.isEcho(wave[:480]))
}

func TestEchoSuppressorClearResetsBuffer(t *testing.T) {
	e := newEchoSuppressor()
	wave := sineWave(400, 8000, 2000, 0.8)
	e.recordPlayed(wave)
	e.clear()

	assert.False(t, e.isEcho(wave[:480]))
}
