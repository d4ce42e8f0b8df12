// Package emoji tracks the custom emoji a transport exposes and keeps
// model output renderable: a prompt context describing what may be
// used, and repair of the half-formed tokens models tend to produce.
package emoji

import (
	"fmt"
	"strings"
	"sync"
)

// Emoji is one custom transport emoji.
type Emoji struct {
	ID       string
	Name     string
	Animated bool

	// Description tells the model when this emoji fits.
	Description string
}

// Token renders the transport form, <:name:id> or <a:name:id>.
func (e Emoji) Token() string {
	if e.Animated {
		return fmt.Sprintf("<a:%s:%s>", e.Name, e.ID)
	}
	return fmt.Sprintf("<:%s:%s>", e.Name, e.ID)
}

// Registry holds the application-level and per-guild emoji snapshots.
// Transports replace whole snapshots at startup and on guild changes;
// readers see the old set or the new one, never a mix.
type Registry struct {
	mu     sync.RWMutex
	app    []Emoji
	guilds map[string][]Emoji
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{guilds: make(map[string][]Emoji)}
}

// SetApplication replaces the application emoji snapshot.
func (r *Registry) SetApplication(emojis []Emoji) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.app = append([]Emoji(nil), emojis...)
}

// SetGuild replaces one guild's emoji snapshot.
func (r *Registry) SetGuild(guildID string, emojis []Emoji) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds[guildID] = append([]Emoji(nil), emojis...)
}

// RemoveGuild drops a guild's snapshot when the bot leaves it.
func (r *Registry) RemoveGuild(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guilds, guildID)
}

// Stats summarizes what is loaded, for startup logging.
type Stats struct {
	Application int
	Guild       int
	Guilds      int
}

// Stats counts the loaded emoji across scopes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Application: len(r.app), Guilds: len(r.guilds)}
	for _, set := range r.guilds {
		s.Guild += len(set)
	}
	return s
}

// PromptContext renders the emoji block for the system prompt. Guild
// emoji shadow application emoji that share a name. An empty registry
// renders nothing.
func (r *Registry) PromptContext(guildID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guild := r.guilds[guildID]
	shadowed := make(map[string]bool, len(guild))
	for _, e := range guild {
		shadowed[e.Name] = true
	}

	var b strings.Builder
	wroteApp := false
	for _, e := range r.app {
		if shadowed[e.Name] {
			continue
		}
		if !wroteApp {
			b.WriteString("**可用的應用程式 Emoji:**\n")
			wroteApp = true
		}
		fmt.Fprintf(&b, "- %s - %s\n", e.Token(), e.Description)
	}
	if len(guild) > 0 {
		b.WriteString("**當前伺服器可用的 Emoji:**\n")
		for _, e := range guild {
			fmt.Fprintf(&b, "- %s - %s\n", e.Token(), e.Description)
		}
	}
	if b.Len() == 0 {
		return ""
	}

	return "Emoji 使用說明：\n" + b.String() +
		"\n請在回應中適當使用這些 emoji 來增加表達的生動性。直接使用 emoji 格式即可。\n" +
		"例如：<:thinking:123456789012345678> 讓我想想... <:happy:123456789012345679>"
}

// resolve finds the unique emoji for a name, guild set first. A name
// present in the guild set never falls through to the application set,
// so an ambiguous guild name stays unresolved.
func (r *Registry) resolve(name, guildID string) (Emoji, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, n := scanName(r.guilds[guildID], name); n > 0 {
		return e, n == 1
	}
	e, n := scanName(r.app, name)
	return e, n == 1
}

func scanName(set []Emoji, name string) (match Emoji, count int) {
	for _, e := range set {
		if e.Name == name {
			if count == 0 {
				match = e
			}
			count++
		}
	}
	return match, count
}
