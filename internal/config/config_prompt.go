package config

// PromptSystemConfig controls persona selection and prompt decoration.
type PromptSystemConfig struct {
	Persona            PersonaConfig            `yaml:"persona"`
	DiscordIntegration DiscordIntegrationConfig `yaml:"discord_integration"`
}

// PersonaConfig selects the system prompt persona.
type PersonaConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// RandomSelection picks a random persona per invocation instead
	// of DefaultPersona. Default: true.
	RandomSelection *bool `yaml:"random_selection"`
	// DefaultPersona names the persona used when random selection is
	// off or the directory is empty. Default: default.
	DefaultPersona string `yaml:"default_persona"`
	// Directory holds persona prompt files. Default: personas.
	Directory string `yaml:"directory"`
}

// IsEnabled reports whether persona prompts are applied.
func (p PersonaConfig) IsEnabled() bool {
	return boolOr(p.Enabled, true)
}

// RandomEnabled reports whether a random persona is picked per
// invocation.
func (p PersonaConfig) RandomEnabled() bool {
	return boolOr(p.RandomSelection, true)
}

// DiscordIntegrationConfig decorates prompts with transport context.
type DiscordIntegrationConfig struct {
	// IncludeTimestamp prepends the current time in the configured
	// timezone to the system prompt. Default: true.
	IncludeTimestamp *bool `yaml:"include_timestamp"`
}

// TimestampEnabled reports whether the current time is prepended to
// the system prompt.
func (d DiscordIntegrationConfig) TimestampEnabled() bool {
	return boolOr(d.IncludeTimestamp, true)
}
