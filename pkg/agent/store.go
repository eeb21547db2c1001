// Package agent provides the read-only agent-configuration store (spec.md
// §6.4). The dialog core treats agent configuration as an external
// collaborator it never mutates; this package owns loading and lookup.
package agent

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/voxdialog/pkg/dialog"
)

// file is the on-disk shape of an agent definitions file: a map of agent id
// to its record, parsed with unknown-field rejection to catch config typos.
type file struct {
	Agents map[string]record `yaml:"agents"`
}

// record mirrors dialog.AgentConfig's attributes in YAML field names.
type record struct {
	Name             string  `yaml:"name"`
	Voice            string  `yaml:"voice"`
	SpeakingSpeed    float64 `yaml:"speaking_speed"`
	Greeting         string  `yaml:"greeting"`
	SystemPrompt     string  `yaml:"system_prompt"`
	TonePreset       string  `yaml:"tone_preset"`
	LLMModel         string  `yaml:"llm_model"`
	KnowledgeText    string  `yaml:"knowledge_text"`
	GuardrailEnabled bool    `yaml:"guardrail_enabled"`
	InjectTime       bool    `yaml:"inject_time"`
	InjectCaller     bool    `yaml:"inject_caller"`
	Timezone         string  `yaml:"timezone"`
}

func (r record) toAgentConfig(id string) dialog.AgentConfig {
	speed := r.SpeakingSpeed
	if speed == 0 {
		speed = 1.0
	}
	return dialog.AgentConfig{
		ID:               id,
		Name:             r.Name,
		Voice:            dialog.Voice(r.Voice),
		SpeakingSpeed:    speed,
		Greeting:         r.Greeting,
		SystemPrompt:     r.SystemPrompt,
		TonePreset:       r.TonePreset,
		LLMModel:         r.LLMModel,
		KnowledgeText:    r.KnowledgeText,
		GuardrailEnabled: r.GuardrailEnabled,
		InjectTime:       r.InjectTime,
		InjectCaller:     r.InjectCaller,
		Timezone:         r.Timezone,
	}
}

// ErrNotFound is returned by Store.Get when the requested agent id is not
// present in the loaded configuration.
type ErrNotFound struct {
	AgentID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("agent: no configuration for agent_id %q", e.AgentID)
}

// Store is an in-memory, read-only lookup of agent configurations loaded
// from a YAML file. Safe for concurrent use; Reload replaces the snapshot
// atomically.
type Store struct {
	mu     sync.RWMutex
	agents map[string]dialog.AgentConfig
}

// LoadFile reads and parses an agent definitions YAML file from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open config file %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agent: parse config file %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader parses agent definitions YAML from an io.Reader. The
// reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*Store, error) {
	var parsed file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("agent: decode config yaml: %w", err)
	}

	agents := make(map[string]dialog.AgentConfig, len(parsed.Agents))
	for id, rec := range parsed.Agents {
		agents[id] = rec.toAgentConfig(id)
	}
	return &Store{agents: agents}, nil
}

// Get returns the configuration for agentID, or *ErrNotFound if absent.
func (s *Store) Get(agentID string) (dialog.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.agents[agentID]
	if !ok {
		return dialog.AgentConfig{}, &ErrNotFound{AgentID: agentID}
	}
	return cfg, nil
}

// Reload atomically replaces the store's contents by re-reading path.
func (s *Store) Reload(path string) error {
	fresh, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.agents = fresh.agents
	s.mu.Unlock()
	return nil
}
