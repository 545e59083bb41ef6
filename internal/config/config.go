// Package config loads engine.yaml and resolves runtime secrets. Structural
// defaults live in accessor methods so a minimal config file stays minimal.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	Version int `yaml:"version"`
	Engine  struct {
		Name     string `yaml:"name"`
		AssetDir string `yaml:"asset_dir"`
	} `yaml:"engine"`
	Scenario struct {
		Path string `yaml:"path"`
	} `yaml:"scenario"`
	Network struct {
		APIPort    int    `yaml:"api_port"`
		MQTTBroker string `yaml:"mqtt_broker"`
	} `yaml:"network"`
	LLM struct {
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		BaseURL     string  `yaml:"base_url"`
		Analysis    struct {
			Model       string  `yaml:"model"`
			Temperature float32 `yaml:"temperature"`
			MaxTokens   int     `yaml:"max_tokens"`
		} `yaml:"analysis"`
	} `yaml:"llm"`
	Voice struct {
		Enabled    bool   `yaml:"enabled"`
		Model      string `yaml:"model"`
		Voice      string `yaml:"voice"`
		SampleRate int    `yaml:"sample_rate"`
	} `yaml:"voice"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *EngineConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// EngineName returns the configured engine name, defaulting to "kamishibai".
func (c *EngineConfig) EngineName() string {
	if c.Engine.Name == "" {
		return "kamishibai"
	}
	return c.Engine.Name
}

// AssetDir returns the directory served under /assets/.
func (c *EngineConfig) AssetDir() string {
	if c.Engine.AssetDir == "" {
		return "assets"
	}
	return c.Engine.AssetDir
}

// ScenarioPath returns the scenario file path.
func (c *EngineConfig) ScenarioPath() string {
	if c.Scenario.Path == "" {
		return "scenario.yaml"
	}
	return c.Scenario.Path
}

// MQTTBroker returns the broker URL; empty means fall back to the stage
// package's env default.
func (c *EngineConfig) MQTTBroker() string {
	return c.Network.MQTTBroker
}

// LLMModel returns the conversation model.
func (c *EngineConfig) LLMModel() string {
	if c.LLM.Model == "" {
		return "gpt-4o-mini"
	}
	return c.LLM.Model
}

// LLMTemperature returns the conversation sampling temperature.
func (c *EngineConfig) LLMTemperature() float32 {
	if c.LLM.Temperature == 0 {
		return 0.7
	}
	return c.LLM.Temperature
}

// LLMMaxTokens returns the conversation reply budget.
func (c *EngineConfig) LLMMaxTokens() int {
	if c.LLM.MaxTokens == 0 {
		return 500
	}
	return c.LLM.MaxTokens
}

// AnalysisModel returns the transcript-analysis model.
func (c *EngineConfig) AnalysisModel() string {
	if c.LLM.Analysis.Model == "" {
		return "gpt-4o-mini"
	}
	return c.LLM.Analysis.Model
}

// AnalysisTemperature returns the transcript-analysis temperature.
func (c *EngineConfig) AnalysisTemperature() float32 {
	if c.LLM.Analysis.Temperature == 0 {
		return 0.3
	}
	return c.LLM.Analysis.Temperature
}

// AnalysisMaxTokens returns the transcript-analysis reply budget.
func (c *EngineConfig) AnalysisMaxTokens() int {
	if c.LLM.Analysis.MaxTokens == 0 {
		return 150
	}
	return c.LLM.Analysis.MaxTokens
}

// VoiceModel returns the realtime voice model.
func (c *EngineConfig) VoiceModel() string {
	if c.Voice.Model == "" {
		return "gpt-4o-realtime-preview"
	}
	return c.Voice.Model
}

// VoiceName returns the synthesized voice.
func (c *EngineConfig) VoiceName() string {
	if c.Voice.Voice == "" {
		return "alloy"
	}
	return c.Voice.Voice
}

// VoiceSampleRate returns the PCM16 rate assumed for voice clients that do
// not declare their own.
func (c *EngineConfig) VoiceSampleRate() int {
	if c.Voice.SampleRate == 0 {
		return 24000
	}
	return c.Voice.SampleRate
}

// Load reads engine.yaml from the given path.
func Load(path string) (*EngineConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported engine.yaml version: %d", cfg.Version)
	}

	return &cfg, nil
}
