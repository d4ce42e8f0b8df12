package emoji

import (
	"regexp"
	"strings"
)

// maxHoldBytes releases a held fragment once it outgrows any plausible
// emoji token, so pathological output cannot stall a stream.
const maxHoldBytes = 64

// tokenPrefixRe matches an unterminated custom emoji token, anything
// from a lone "<" up to "<a:name:123" still awaiting its ">".
var tokenPrefixRe = regexp.MustCompile(`^(<|<a|<a?:\w*|<a?:\w+:\d*)$`)

// bareTailRe matches a complete :name: reference ending the text.
var bareTailRe = regexp.MustCompile(`:\w+:$`)

// bareFragmentRe matches a trailing ":name" fragment that the next
// chunk may still complete.
var bareFragmentRe = regexp.MustCompile(`:\w*$`)

// PartialTokenIndex returns the byte offset where a suspected
// unterminated emoji token starts at the tail of s, or len(s) when the
// whole text is safe to flush. Streaming deliveries cut here so a
// token never splits across messages.
func PartialTokenIndex(s string) int {
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		tail := s[i:]
		if !strings.Contains(tail, ">") && tokenPrefixRe.MatchString(tail) {
			return i
		}
	}
	if bareTailRe.MatchString(s) {
		return len(s)
	}
	if loc := bareFragmentRe.FindStringIndex(s); loc != nil {
		return loc[0]
	}
	return len(s)
}

// StreamRepairer repairs emoji tokens across streaming chunk
// boundaries. Feed returns the text safe to deliver now; a suspected
// partial token at the chunk tail is held until the next chunk settles
// it. Flush releases whatever is still held at end of stream.
type StreamRepairer struct {
	reg     *Registry
	guildID string
	held    string
}

// NewStreamRepairer builds a repairer bound to one guild's emoji set.
func NewStreamRepairer(reg *Registry, guildID string) *StreamRepairer {
	return &StreamRepairer{reg: reg, guildID: guildID}
}

// Feed appends chunk to the held tail and returns the repaired prefix
// that can be delivered immediately.
func (sr *StreamRepairer) Feed(chunk string) string {
	text := sr.held + chunk
	cut := PartialTokenIndex(text)
	if len(text)-cut > maxHoldBytes {
		cut = len(text)
	}
	sr.held = text[cut:]
	if cut == 0 {
		return ""
	}
	return sr.reg.Repair(text[:cut], sr.guildID)
}

// Flush repairs and returns any held fragment, ending the hold.
func (sr *StreamRepairer) Flush() string {
	if sr.held == "" {
		return ""
	}
	out := sr.reg.Repair(sr.held, sr.guildID)
	sr.held = ""
	return out
}
