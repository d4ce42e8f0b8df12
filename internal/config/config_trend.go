package config

// TrendConfig controls trend-following in busy channels.
type TrendConfig struct {
	// Enabled defaults to false.
	Enabled bool `yaml:"enabled"`

	// AllowedChannels restricts the feature to listed channel ids.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// CooldownSeconds is the per-channel minimum spacing between
	// fires. Default: 60.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// MessageHistoryLimit is the per-channel window scanned for
	// trends. Default: 10.
	MessageHistoryLimit int `yaml:"message_history_limit"`

	// ReactionThreshold is the reaction count that starts a reaction
	// trend. Default: 3.
	ReactionThreshold int `yaml:"reaction_threshold"`
	// ContentThreshold is the number of identical consecutive
	// messages that starts a content trend. Default: 2.
	ContentThreshold int `yaml:"content_threshold"`
	// EmojiThreshold is the number of consecutive emoji-only
	// messages that starts an emoji trend. Default: 3.
	EmojiThreshold int `yaml:"emoji_threshold"`

	// EnableProbabilistic scales the follow chance with trend
	// strength instead of always firing. Default: true.
	EnableProbabilistic *bool `yaml:"enable_probabilistic"`
	// BaseProbability is the chance at exactly the threshold.
	// Default: 0.5.
	BaseProbability float64 `yaml:"base_probability"`
	// ProbabilityBoostFactor is the added chance per message beyond
	// the threshold. Default: 0.15.
	ProbabilityBoostFactor float64 `yaml:"probability_boost_factor"`
	// MaxProbability caps the follow chance. Default: 0.95.
	MaxProbability float64 `yaml:"max_probability"`

	// EnableRandomDelay waits a random interval before following, so
	// the bot does not answer instantly. Default: true.
	EnableRandomDelay *bool `yaml:"enable_random_delay"`
	// MinDelay and MaxDelay bound that interval.
	// Defaults: 0.5s and 3s.
	MinDelay Duration `yaml:"min_delay"`
	MaxDelay Duration `yaml:"max_delay"`
}

// ProbabilisticEnabled reports whether the follow chance scales with
// trend strength.
func (t TrendConfig) ProbabilisticEnabled() bool {
	return boolOr(t.EnableProbabilistic, true)
}

// RandomDelayEnabled reports whether follows wait a random interval.
func (t TrendConfig) RandomDelayEnabled() bool {
	return boolOr(t.EnableRandomDelay, true)
}

// ChannelAllowed reports whether the engine may act in a channel.
func (t TrendConfig) ChannelAllowed(channelID string) bool {
	if len(t.AllowedChannels) == 0 {
		return true
	}
	for _, id := range t.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}
