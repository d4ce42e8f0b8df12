package config

// LLMConfig configures providers and per-role model settings.
type LLMConfig struct {
	// DefaultProvider resolves bare model names without a provider
	// prefix. Default: gemini.
	DefaultProvider string `yaml:"default_provider"`

	// MaxRetries bounds retries of transient provider failures.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// Providers overrides per-provider connection settings. Known
	// providers are gemini, openai and anthropic.
	Providers map[string]ProviderConfig `yaml:"providers"`

	Models RoleModels `yaml:"models"`
}

// ProviderConfig holds connection settings for one provider.
// API keys are read from the environment, never from the file.
type ProviderConfig struct {
	// APIKeyEnv names the environment variable holding the key.
	// Defaults: GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`
	// BaseURL overrides the provider endpoint, for proxies and
	// compatible servers.
	BaseURL string `yaml:"base_url"`
}

// KeyEnv returns the environment variable that holds the API key for
// a provider, honoring api_key_env overrides.
func (l LLMConfig) KeyEnv(provider string) string {
	if p, ok := l.Providers[provider]; ok && p.APIKeyEnv != "" {
		return p.APIKeyEnv
	}
	switch provider {
	case "gemini":
		return "GEMINI_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// BaseURL returns the configured endpoint override for a provider.
func (l LLMConfig) BaseURL(provider string) string {
	if p, ok := l.Providers[provider]; ok {
		return p.BaseURL
	}
	return ""
}

// RoleModels assigns a model configuration to each gateway role.
type RoleModels struct {
	Planner       ModelConfig `yaml:"planner"`
	Finalizer     ModelConfig `yaml:"finalizer"`
	Reflector     ModelConfig `yaml:"reflector"`
	ProgressBlurb ModelConfig `yaml:"progress_blurb"`
}

// ModelConfig selects and tunes the model for one role.
type ModelConfig struct {
	// Model is "provider/name" or a bare name resolved against
	// DefaultProvider.
	Model string `yaml:"model"`
	// Temperature in [0, 2].
	Temperature float64 `yaml:"temperature"`
	// MaxOutputTokens bounds the completion length.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}
