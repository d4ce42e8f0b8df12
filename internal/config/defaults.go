package config

import "time"

const defaultGeminiModel = "gemini/gemini-2.0-flash"

func applyDefaults(cfg *Config) {
	if cfg.System.Timezone == "" {
		cfg.System.Timezone = "Asia/Taipei"
	}
	if cfg.System.LogLevel == "" {
		cfg.System.LogLevel = "info"
	}

	lim := &cfg.Discord.Limits
	if lim.MaxText == 0 {
		lim.MaxText = 100000
	}
	if lim.MaxImages == 0 {
		lim.MaxImages = 3
	}
	if lim.MaxMessages == 0 {
		lim.MaxMessages = 25
	}
	if lim.HardTextCap == 0 {
		lim.HardTextCap = 400000
	}

	media := &cfg.Discord.InputMedia
	if media.MaxAnimationFrames == 0 {
		media.MaxAnimationFrames = 4
	}
	if media.MaxImageBytes == 0 {
		media.MaxImageBytes = 4 << 20
	}
	if media.MaxEdge == 0 {
		media.MaxEdge = 1024
	}

	llm := &cfg.LLM
	if llm.DefaultProvider == "" {
		llm.DefaultProvider = "gemini"
	}
	if llm.MaxRetries == 0 {
		llm.MaxRetries = 3
	}
	applyModelDefaults(&llm.Models.Planner, defaultGeminiModel, 0.3, 2048)
	applyModelDefaults(&llm.Models.Finalizer, defaultGeminiModel, 0.7, 4096)
	applyModelDefaults(&llm.Models.Reflector, defaultGeminiModel, 0.1, 512)
	applyModelDefaults(&llm.Models.ProgressBlurb, defaultGeminiModel, 0.9, 20)

	behavior := &cfg.Agent.Behavior
	if behavior.TimeoutPerRound == 0 {
		behavior.TimeoutPerRound = Duration(30 * time.Second)
	}
	for name, tool := range cfg.Agent.Tools {
		if tool.Priority == 0 {
			tool.Priority = 999
			cfg.Agent.Tools[name] = tool
		}
	}

	if cfg.Streaming.Timeout == 0 {
		cfg.Streaming.Timeout = Duration(120 * time.Second)
	}

	progress := &cfg.Progress.Discord
	if progress.UpdateInterval == 0 {
		progress.UpdateInterval = Duration(2 * time.Second)
	}
	if progress.CleanupDelay == 0 {
		progress.CleanupDelay = Duration(30 * time.Second)
	}

	reminder := &cfg.Reminder
	if reminder.PersistenceFile == "" {
		reminder.PersistenceFile = "data/events.json"
	}
	if reminder.MaxRemindersPerUser == 0 {
		reminder.MaxRemindersPerUser = 5
	}
	if reminder.MaxRetries == 0 {
		reminder.MaxRetries = 3
	}

	trend := &cfg.TrendFollowing
	if trend.CooldownSeconds == 0 {
		trend.CooldownSeconds = 60
	}
	if trend.MessageHistoryLimit == 0 {
		trend.MessageHistoryLimit = 10
	}
	if trend.ReactionThreshold == 0 {
		trend.ReactionThreshold = 3
	}
	if trend.ContentThreshold == 0 {
		trend.ContentThreshold = 2
	}
	if trend.EmojiThreshold == 0 {
		trend.EmojiThreshold = 3
	}
	if trend.BaseProbability == 0 {
		trend.BaseProbability = 0.5
	}
	if trend.ProbabilityBoostFactor == 0 {
		trend.ProbabilityBoostFactor = 0.15
	}
	if trend.MaxProbability == 0 {
		trend.MaxProbability = 0.95
	}
	if trend.MinDelay == 0 {
		trend.MinDelay = Duration(500 * time.Millisecond)
	}
	if trend.MaxDelay == 0 {
		trend.MaxDelay = Duration(3 * time.Second)
	}

	persona := &cfg.PromptSystem.Persona
	if persona.DefaultPersona == "" {
		persona.DefaultPersona = "default"
	}
	if persona.Directory == "" {
		persona.Directory = "personas"
	}
}

func applyModelDefaults(m *ModelConfig, model string, temperature float64, maxTokens int) {
	if m.Model == "" {
		m.Model = model
	}
	if m.Temperature == 0 {
		m.Temperature = temperature
	}
	if m.MaxOutputTokens == 0 {
		m.MaxOutputTokens = maxTokens
	}
}

// boolOr dereferences an optional flag with a default.
func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
