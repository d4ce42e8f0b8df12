package config

// OutputMediaConfig allow-lists transport media the model may use in
// replies. Only listed emoji appear in the prompt context; everything
// the transport has but the config omits stays invisible to the model.
type OutputMediaConfig struct {
	Emoji    EmojiMediaConfig   `yaml:"emoji"`
	Stickers StickerMediaConfig `yaml:"stickers"`
}

// EmojiMediaConfig describes custom emoji exposed to the model.
type EmojiMediaConfig struct {
	// Application maps application emoji id to a usage description.
	Application map[string]string `yaml:"application"`
	// Guilds maps guild id to that guild's emoji id descriptions.
	Guilds map[string]map[string]string `yaml:"guilds"`
}

// StickerMediaConfig is parsed for forward compatibility; stickers
// have no output behavior yet.
type StickerMediaConfig struct {
	Application map[string]string `yaml:"application"`
}
