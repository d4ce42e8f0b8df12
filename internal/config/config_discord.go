package config

// DiscordConfig configures the Discord front end.
type DiscordConfig struct {
	// BotToken authenticates the gateway session. Usually supplied as
	// ${DISCORD_BOT_TOKEN} and expanded at load.
	BotToken string `yaml:"bot_token"`

	// StatusMessage is shown as the bot presence. Empty means no status.
	StatusMessage string `yaml:"status_message"`

	Limits      LimitsConfig      `yaml:"limits"`
	InputMedia  InputMediaConfig  `yaml:"input_media"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// LimitsConfig shapes collected conversation input.
type LimitsConfig struct {
	// MaxText caps total collected text in Unicode code points.
	// Default: 100000.
	MaxText int `yaml:"max_text"`
	// MaxImages caps retained images per invocation. Default: 3.
	MaxImages int `yaml:"max_images"`
	// MaxMessages caps collected history length. Default: 25.
	MaxMessages int `yaml:"max_messages"`
	// HardTextCap rejects oversized input outright before truncation.
	// Default: 400000.
	HardTextCap int `yaml:"hard_text_cap"`
}

// InputMediaConfig bounds inbound image processing.
type InputMediaConfig struct {
	// MaxAnimationFrames caps frames sampled from an animated image.
	// Default: 4.
	MaxAnimationFrames int `yaml:"max_animation_frames"`
	// MaxImageBytes rejects larger attachments. Default: 4 MiB.
	MaxImageBytes int `yaml:"max_image_bytes"`
	// MaxEdge is the longest allowed image edge after downscale.
	// Default: 1024.
	MaxEdge int `yaml:"max_edge"`
}

// PermissionsConfig gates who may invoke the agent and where.
// Block lists win over allow lists; empty allow lists allow everyone.
type PermissionsConfig struct {
	AllowDMs        bool     `yaml:"allow_dms"`
	AllowedUsers    []string `yaml:"allowed_users"`
	BlockedUsers    []string `yaml:"blocked_users"`
	AllowedRoles    []string `yaml:"allowed_roles"`
	BlockedRoles    []string `yaml:"blocked_roles"`
	AllowedChannels []string `yaml:"allowed_channels"`
	BlockedChannels []string `yaml:"blocked_channels"`
}

// MaintenanceConfig short-circuits all requests with a fixed notice.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Message replaces the default maintenance notice when set.
	Message string `yaml:"message"`
}
