package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Stepwise configuration
type Config struct {
	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Gemini cloud provider
	Gemini GeminiConfig `json:"gemini" mapstructure:"gemini"`

	// Ollama local provider
	Ollama OllamaConfig `json:"ollama" mapstructure:"ollama"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Memory
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path where file tools operate
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// AgentConfig holds turn loop settings
type AgentConfig struct {
	MaxStepsPerTask int `json:"max_steps_per_task" mapstructure:"max_steps_per_task"`
	StepIncrement   int `json:"step_increment" mapstructure:"step_increment"`
	MemoryTopK      int `json:"memory_top_k" mapstructure:"memory_top_k"`
}

// GeminiConfig holds cloud provider settings
type GeminiConfig struct {
	BaseURL         string   `json:"base_url" mapstructure:"base_url"`
	KeysFile        string   `json:"keys_file" mapstructure:"keys_file"`
	PreferredModels []string `json:"preferred_models" mapstructure:"preferred_models"`
}

// OllamaConfig holds local provider settings
type OllamaConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Model          string `json:"model" mapstructure:"model"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
}

// ToolsConfig holds tool discovery settings
type ToolsConfig struct {
	Dir            string `json:"dir" mapstructure:"dir"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// MemoryConfig holds memory store settings
type MemoryConfig struct {
	Dir       string `json:"dir" mapstructure:"dir"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxStepsPerTask: 10,
			StepIncrement:   10,
			MemoryTopK:      3,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			PreferredModels: []string{
				"models/gemini-2.5-flash-preview-09-2025",
				"models/gemini-2.5-flash",
				"models/gemini-2.5-pro",
				"models/gemini-2.0-flash",
				"models/gemini-flash-latest",
				"models/gemini-pro-latest",
			},
		},
		Ollama: OllamaConfig{
			Host:           "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 120,
		},
		Memory: MemoryConfig{
			Dimension: 768,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir:       "",
		WorkspacePath: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Agent.MaxStepsPerTask <= 0 {
		return fmt.Errorf("agent.max_steps_per_task must be positive, got %d", c.Agent.MaxStepsPerTask)
	}
	if c.Agent.StepIncrement <= 0 {
		return fmt.Errorf("agent.step_increment must be positive, got %d", c.Agent.StepIncrement)
	}
	if c.Agent.MemoryTopK <= 0 {
		return fmt.Errorf("agent.memory_top_k must be positive, got %d", c.Agent.MemoryTopK)
	}

	if c.Gemini.BaseURL == "" {
		return fmt.Errorf("gemini.base_url is required")
	}
	if len(c.Gemini.PreferredModels) == 0 {
		return fmt.Errorf("gemini.preferred_models must list at least one model")
	}

	if c.Ollama.Host == "" {
		return fmt.Errorf("ollama.host is required")
	}
	if c.Ollama.EmbeddingModel == "" {
		return fmt.Errorf("ollama.embedding_model is required")
	}

	if c.Memory.Dimension <= 0 {
		return fmt.Errorf("memory.dimension must be positive, got %d", c.Memory.Dimension)
	}

	if c.Tools.TimeoutSeconds <= 0 {
		return fmt.Errorf("tools.timeout_seconds must be positive, got %d", c.Tools.TimeoutSeconds)
	}

	return nil
}
