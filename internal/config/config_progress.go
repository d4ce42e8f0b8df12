package config

// ProgressConfig tunes progress reporting per transport.
type ProgressConfig struct {
	Discord DiscordProgressConfig `yaml:"discord"`
	CLI     CLIProgressConfig     `yaml:"cli"`
}

// DiscordProgressConfig controls the Discord progress message.
type DiscordProgressConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// UseEmbeds renders progress as an embed instead of plain text.
	// Default: true.
	UseEmbeds *bool `yaml:"use_embeds"`
	// UpdateInterval is the minimum spacing between message edits.
	// Default: 2s.
	UpdateInterval Duration `yaml:"update_interval"`
	// CleanupDelay keeps the final progress message around before
	// deletion. Default: 30s.
	CleanupDelay Duration `yaml:"cleanup_delay"`
	// AutoGenerateMessages asks the blurb model for stage texts
	// instead of templates. Default: false.
	AutoGenerateMessages bool `yaml:"auto_generate_messages"`
	// Messages overrides the built-in stage templates by stage name.
	Messages map[string]string `yaml:"messages"`
}

// IsEnabled reports whether Discord progress updates are on.
func (c DiscordProgressConfig) IsEnabled() bool {
	return boolOr(c.Enabled, true)
}

// EmbedsEnabled reports whether progress renders as an embed.
func (c DiscordProgressConfig) EmbedsEnabled() bool {
	return boolOr(c.UseEmbeds, true)
}

// CLIProgressConfig controls terminal progress output.
type CLIProgressConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// ShowPercentage appends the numeric progress. Default: true.
	ShowPercentage *bool `yaml:"show_percentage"`
}

// IsEnabled reports whether CLI progress output is on.
func (c CLIProgressConfig) IsEnabled() bool {
	return boolOr(c.Enabled, true)
}

// PercentageEnabled reports whether the numeric progress is shown.
func (c CLIProgressConfig) PercentageEnabled() bool {
	return boolOr(c.ShowPercentage, true)
}
