// Package config loads friday configuration from YAML files and FRIDAY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/mcp"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FRIDAY"

// Model providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds all friday configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Agent   AgentSettings `mapstructure:"agent" yaml:"agent"`
	MCP     MCPConfig     `mapstructure:"mcp" yaml:"mcp"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Provider       string  `mapstructure:"provider" yaml:"provider"` // ollama or openai
	Endpoint       string  `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string  `mapstructure:"model" yaml:"model"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// Timeout returns the request timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// AgentSettings bounds the agent loop. Zero values take the agent defaults.
type AgentSettings struct {
	MaxSteps              int  `mapstructure:"max_steps" yaml:"max_steps"`
	MaxPlanIterations     int  `mapstructure:"max_plan_iterations" yaml:"max_plan_iterations"`
	MaxConsecutiveRepeats int  `mapstructure:"max_consecutive_repeats" yaml:"max_consecutive_repeats"`
	MaxRecoveries         int  `mapstructure:"max_recoveries" yaml:"max_recoveries"`
	ContextSize           int  `mapstructure:"context_size" yaml:"context_size"`
	Debug                 bool `mapstructure:"debug" yaml:"debug"`
	Streaming             bool `mapstructure:"streaming" yaml:"streaming"`
}

// MCPConfig lists the tool servers connected at startup.
type MCPConfig struct {
	Servers []mcp.ServerConfig `mapstructure:"servers" yaml:"servers"`
}

// ToolsConfig lists YAML manifests of command tools to load.
type ToolsConfig struct {
	Manifests []string `mapstructure:"manifests" yaml:"manifests"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       ProviderOllama,
			Endpoint:       "http://localhost:11434",
			Model:          "qwen2.5:7b",
			TimeoutSeconds: 120,
			Temperature:    0.1,
		},
		Agent: AgentSettings{
			MaxSteps:              agent.DefaultMaxSteps,
			MaxPlanIterations:     agent.DefaultMaxPlanIterations,
			MaxConsecutiveRepeats: agent.DefaultMaxConsecutiveRepeats,
			MaxRecoveries:         agent.DefaultMaxRecoveries,
			ContextSize:           8192,
		},
	}
}

// Load reads the config file at path. Environment variables override file
// values, e.g. FRIDAY_LLM_MODEL for llm.model.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// LoadFromPaths loads the first config file that exists. With none present
// it returns the defaults with environment overrides applied.
func LoadFromPaths(paths ...string) (*Config, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.endpoint", d.LLM.Endpoint)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)

	v.SetDefault("agent.max_steps", d.Agent.MaxSteps)
	v.SetDefault("agent.max_plan_iterations", d.Agent.MaxPlanIterations)
	v.SetDefault("agent.max_consecutive_repeats", d.Agent.MaxConsecutiveRepeats)
	v.SetDefault("agent.max_recoveries", d.Agent.MaxRecoveries)
	v.SetDefault("agent.context_size", d.Agent.ContextSize)
	v.SetDefault("agent.debug", d.Agent.Debug)
	v.SetDefault("agent.streaming", d.Agent.Streaming)

	v.SetDefault("metrics.address", d.Metrics.Address)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOllama, ProviderOpenAI, c.LLM.Provider))
	}
	if strings.TrimSpace(c.LLM.Endpoint) == "" {
		errs = append(errs, errors.New("llm.endpoint is required"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("llm.timeout_seconds must be greater than zero"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}

	limits := map[string]int{
		"agent.max_steps":               c.Agent.MaxSteps,
		"agent.max_plan_iterations":     c.Agent.MaxPlanIterations,
		"agent.max_consecutive_repeats": c.Agent.MaxConsecutiveRepeats,
		"agent.max_recoveries":          c.Agent.MaxRecoveries,
		"agent.context_size":            c.Agent.ContextSize,
	}
	for key, val := range limits {
		if val < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", key))
		}
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		switch {
		case strings.TrimSpace(s.Name) == "":
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: command is required", i))
		}
	}

	return errors.Join(errs...)
}

// AgentConfig converts the agent section into loop settings.
func (c *Config) AgentConfig() agent.AgentConfig {
	return agent.AgentConfig{
		MaxSteps:              c.Agent.MaxSteps,
		MaxPlanIterations:     c.Agent.MaxPlanIterations,
		MaxConsecutiveRepeats: c.Agent.MaxConsecutiveRepeats,
		MaxRecoveries:         c.Agent.MaxRecoveries,
		ContextSize:           c.Agent.ContextSize,
		ModelID:               c.LLM.Model,
		Debug:                 c.Agent.Debug,
		Streaming:             c.Agent.Streaming,
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
