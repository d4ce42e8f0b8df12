package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

var knownProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
}

// Tools that call out through an LLM provider need its API key even
// though the key is not part of the tool config itself.
var toolCredentialProvider = map[string]string{
	"google_search":   "gemini",
	"youtube_summary": "gemini",
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate rejects inconsistent settings after defaults are applied.
// Error messages name the offending key path.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		return fmt.Errorf("system.timezone: unknown timezone %q", c.System.Timezone)
	}
	if !validLogLevels[c.System.LogLevel] {
		return fmt.Errorf("system.log_level: must be debug, info, warn or error, got %q", c.System.LogLevel)
	}

	if !knownProviders[c.LLM.DefaultProvider] {
		return fmt.Errorf("llm.default_provider: unknown provider %q", c.LLM.DefaultProvider)
	}
	for name := range c.LLM.Providers {
		if !knownProviders[name] {
			return fmt.Errorf("llm.providers.%s: unknown provider", name)
		}
	}
	roleModels := map[string]ModelConfig{
		"planner":        c.LLM.Models.Planner,
		"finalizer":      c.LLM.Models.Finalizer,
		"reflector":      c.LLM.Models.Reflector,
		"progress_blurb": c.LLM.Models.ProgressBlurb,
	}
	for role, m := range roleModels {
		if err := validateModel(role, m); err != nil {
			return err
		}
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries: must not be negative")
	}

	if c.Agent.Behavior.ToolRounds() < 0 {
		return fmt.Errorf("agent.behavior.max_tool_rounds: must not be negative")
	}
	if c.Agent.Behavior.TimeoutPerRound <= 0 {
		return fmt.Errorf("agent.behavior.timeout_per_round: must be positive")
	}
	for name, tool := range c.Agent.Tools {
		if tool.Priority < 0 {
			return fmt.Errorf("agent.tools.%s.priority: must not be negative", name)
		}
		if !tool.Enabled {
			continue
		}
		provider, ok := toolCredentialProvider[name]
		if !ok {
			continue
		}
		env := c.LLM.KeyEnv(provider)
		if env != "" && os.Getenv(env) == "" {
			return fmt.Errorf("agent.tools.%s: enabled but %s is not set", name, env)
		}
	}

	if c.Streaming.MinContentLength < 0 {
		return fmt.Errorf("streaming.min_content_length: must not be negative")
	}
	if c.Streaming.Timeout <= 0 {
		return fmt.Errorf("streaming.timeout: must be positive")
	}

	if c.Progress.Discord.UpdateInterval <= 0 {
		return fmt.Errorf("progress.discord.update_interval: must be positive")
	}
	if c.Progress.Discord.CleanupDelay < 0 {
		return fmt.Errorf("progress.discord.cleanup_delay: must not be negative")
	}

	if c.Reminder.IsEnabled() {
		if strings.TrimSpace(c.Reminder.PersistenceFile) == "" {
			return fmt.Errorf("reminder.persistence_file: required when reminders are enabled")
		}
		if c.Reminder.MaxRemindersPerUser < 1 {
			return fmt.Errorf("reminder.max_reminders_per_user: must be at least 1")
		}
	}
	if c.Reminder.MaxRetries < 0 {
		return fmt.Errorf("reminder.max_retries: must not be negative")
	}
	if c.Reminder.GracePeriod < 0 {
		return fmt.Errorf("reminder.grace_period: must not be negative")
	}

	if err := c.validateTrend(); err != nil {
		return err
	}

	if c.Discord.Limits.MaxText < 1 {
		return fmt.Errorf("discord.limits.max_text: must be at least 1")
	}
	if c.Discord.Limits.MaxMessages < 1 {
		return fmt.Errorf("discord.limits.max_messages: must be at least 1")
	}
	if c.Discord.Limits.MaxImages < 0 {
		return fmt.Errorf("discord.limits.max_images: must not be negative")
	}
	if c.Discord.Limits.HardTextCap < c.Discord.Limits.MaxText {
		return fmt.Errorf("discord.limits.hard_text_cap: must be at least max_text")
	}
	if c.Discord.InputMedia.MaxAnimationFrames < 1 {
		return fmt.Errorf("discord.input_media.max_animation_frames: must be at least 1")
	}

	return nil
}

func validateModel(role string, m ModelConfig) error {
	if m.Model == "" {
		return fmt.Errorf("llm.models.%s.model: required", role)
	}
	if provider, _, found := strings.Cut(m.Model, "/"); found && !knownProviders[provider] {
		return fmt.Errorf("llm.models.%s.model: unknown provider prefix %q", role, provider)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("llm.models.%s.temperature: must be in [0, 2]", role)
	}
	if m.MaxOutputTokens < 1 {
		return fmt.Errorf("llm.models.%s.max_output_tokens: must be at least 1", role)
	}
	return nil
}

func (c *Config) validateTrend() error {
	t := c.TrendFollowing
	if t.CooldownSeconds < 0 {
		return fmt.Errorf("trend_following.cooldown_seconds: must not be negative")
	}
	if t.MessageHistoryLimit < 1 {
		return fmt.Errorf("trend_following.message_history_limit: must be at least 1")
	}
	if t.ReactionThreshold < 1 || t.ContentThreshold < 1 || t.EmojiThreshold < 1 {
		return fmt.Errorf("trend_following thresholds: must be at least 1")
	}
	if t.BaseProbability < 0 || t.BaseProbability > 1 {
		return fmt.Errorf("trend_following.base_probability: must be in [0, 1]")
	}
	if t.MaxProbability < 0 || t.MaxProbability > 1 {
		return fmt.Errorf("trend_following.max_probability: must be in [0, 1]")
	}
	if t.MaxProbability < t.BaseProbability {
		return fmt.Errorf("trend_following.max_probability: must be at least base_probability")
	}
	if t.ProbabilityBoostFactor < 0 {
		return fmt.Errorf("trend_following.probability_boost_factor: must not be negative")
	}
	if t.MinDelay < 0 || t.MaxDelay < t.MinDelay {
		return fmt.Errorf("trend_following.max_delay: must be at least min_delay")
	}
	return nil
}
