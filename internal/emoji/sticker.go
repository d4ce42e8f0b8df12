package emoji

// StickerRegistry reserves the sticker output surface. The config key
// is parsed so deployments can stage descriptions ahead of time, but
// stickers are not yet exposed to the model or rendered in replies.
type StickerRegistry struct {
	descriptions map[string]string
}

// NewStickerRegistry builds a registry over sticker id descriptions.
func NewStickerRegistry(descriptions map[string]string) *StickerRegistry {
	return &StickerRegistry{descriptions: descriptions}
}

// PromptContext renders nothing until sticker output ships.
func (r *StickerRegistry) PromptContext(guildID string) string {
	return ""
}

// Count reports how many stickers are configured.
func (r *StickerRegistry) Count() int {
	return len(r.descriptions)
}
