// Package config loads and validates the strongly-typed configuration
// tree. Parsing is strict: unknown keys are load errors, and defaults
// are documented on the struct fields they fill.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned when the file contains a key the
// configuration tree does not define.
var ErrUnknownKey = errors.New("unknown config key")

// Config is the root configuration structure.
type Config struct {
	System         SystemConfig        `yaml:"system"`
	Discord        DiscordConfig       `yaml:"discord"`
	LLM            LLMConfig           `yaml:"llm"`
	Agent          AgentConfig         `yaml:"agent"`
	Streaming      StreamingConfig     `yaml:"streaming"`
	Progress       ProgressConfig      `yaml:"progress"`
	Reminder       ReminderConfig      `yaml:"reminder"`
	TrendFollowing TrendConfig         `yaml:"trend_following"`
	PromptSystem   PromptSystemConfig  `yaml:"prompt_system"`
	OutputMedia    OutputMediaConfig   `yaml:"output_media"`
	Observability  ObservabilityConfig `yaml:"observability"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	// Timezone controls reminder parsing and timestamp display.
	// Default: Asia/Taipei.
	Timezone string `yaml:"timezone"`
	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
	// DebugMode enables verbose diagnostics. Default: false.
	DebugMode bool `yaml:"debug_mode"`
}

// Load reads, expands, parses and validates the configuration file.
// Environment references like ${DISCORD_BOT_TOKEN} are expanded before
// parsing; unresolved references become empty strings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes with strict field checking.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			cfg = Config{}
		} else if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
		} else {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
