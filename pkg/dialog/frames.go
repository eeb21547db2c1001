package dialog

import (
	"encoding/json"
	"fmt"
)

// InboundType is the `type` discriminator of a client->server control frame
// (spec.md §4.1, §6.1).
type InboundType string

const (
	InAudioConfig           InboundType = "audio_config"
	InAgentConfig           InboundType = "agent_config"
	InMessage               InboundType = "message"
	InInterrupt             InboundType = "interrupt"
	InCallStarted           InboundType = "call_started"
	InAudioPlaybackComplete InboundType = "audio_playback_complete"
)

// ControlFrame is a decoded client->server structured record. Exactly one
// of the typed payload fields is populated, selected by Type.
type ControlFrame struct {
	Type InboundType `json:"type"`

	// audio_config
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// agent_config
	AgentID string `json:"agent_id,omitempty"`

	// message
	Content      string        `json:"content,omitempty"`
	Conversation []rawMessage  `json:"conversation,omitempty"`
}

type rawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecodeControlFrame parses a textual control frame. Unknown discriminators
// decode successfully (callers are expected to warn-and-ignore them per
// spec.md §4.1) — only malformed JSON is an error.
func DecodeControlFrame(raw []byte) (*ControlFrame, error) {
	var cf ControlFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, newError(KindProtocol, fmt.Errorf("malformed control frame: %w", err))
	}
	return &cf, nil
}

// ValidateAudioConfig enforces the fixed inbound format spec.md §4.1
// requires: 8kHz, LINEAR16, mono. Any other handshake is a fatal protocol
// error for the session.
func ValidateAudioConfig(cf *ControlFrame) error {
	if cf.SampleRate != 8000 || cf.Encoding != "LINEAR16" || cf.Channels != 1 {
		return newError(KindProtocol, fmt.Errorf(
			"unsupported audio_config {sample_rate:%d encoding:%s channels:%d}: only 8000/LINEAR16/1 is accepted",
			cf.SampleRate, cf.Encoding, cf.Channels))
	}
	return nil
}
