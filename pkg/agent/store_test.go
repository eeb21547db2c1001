package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

const sampleYAML = `
agents:
  a1:
    name: "Front Desk"
    voice: F1
    speaking_speed: 1.1
    greeting: "Hello! How can I help you today?"
    system_prompt: "You are a concise, friendly receptionist."
    tone_preset: friendly
    llm_model: gpt-4o-mini
    guardrail_enabled: true
    inject_time: true
    inject_caller: false
    timezone: "America/New_York"
  a2:
    name: "Minimal"
    voice: M1
`

func TestLoadFromReader(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	cfg, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", cfg.Name)
	assert.Equal(t, dialog.Voice("F1"), cfg.Voice)
	assert.Equal(t, 1.1, cfg.SpeakingSpeed)
	assert.True(t, cfg.GuardrailEnabled)
	assert.True(t, cfg.InjectTime)
	assert.False(t, cfg.InjectCaller)
}

func TestLoadFromReaderDefaultsSpeakingSpeed(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	cfg, err := s.Get("a2")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.SpeakingSpeed)
}

func TestGetUnknownAgentReturnsNotFound(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	_, err = s.Get("does-not-exist")
	require.Error(t, err)
	var nf *ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("agents:\n  a1:\n    nmae: typo\n"))
	assert.Error(t, err)
}
