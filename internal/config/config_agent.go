package config

// AgentConfig controls the agent loop and its tools.
type AgentConfig struct {
	Behavior BehaviorConfig `yaml:"behavior"`

	// Tools gates and orders individual tools by name. Tools are
	// disabled unless listed with enabled: true.
	Tools map[string]ToolConfig `yaml:"tools"`
}

// BehaviorConfig tunes the plan, execute, reflect loop.
type BehaviorConfig struct {
	// MaxToolRounds bounds plan/execute/reflect iterations. Zero
	// disables tools entirely. Default: 1.
	MaxToolRounds *int `yaml:"max_tool_rounds"`
	// TimeoutPerRound is the wallclock budget for one execute round.
	// Default: 30s.
	TimeoutPerRound Duration `yaml:"timeout_per_round"`
	// EnableReflection skips the reflect node when false, treating
	// every round as sufficient. Default: true.
	EnableReflection *bool `yaml:"enable_reflection"`
}

// ToolRounds returns the configured round bound, defaulting to 1.
func (b BehaviorConfig) ToolRounds() int {
	if b.MaxToolRounds == nil {
		return 1
	}
	return *b.MaxToolRounds
}

// ReflectionEnabled reports whether the reflect node runs.
func (b BehaviorConfig) ReflectionEnabled() bool {
	return boolOr(b.EnableReflection, true)
}

// ToolConfig is the per-tool gate.
type ToolConfig struct {
	Enabled bool `yaml:"enabled"`
	// Priority orders aggregated results, ascending. Default: 999.
	Priority int `yaml:"priority"`
}

// StreamingConfig controls incremental delivery of the final answer.
type StreamingConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// MinContentLength suppresses streaming for short answers.
	// Default: 0.
	MinContentLength int `yaml:"min_content_length"`
	// Timeout bounds the whole finalizer stream. Default: 120s.
	Timeout Duration `yaml:"timeout"`
}

// IsEnabled reports whether streaming delivery is on.
func (s StreamingConfig) IsEnabled() bool {
	return boolOr(s.Enabled, true)
}
