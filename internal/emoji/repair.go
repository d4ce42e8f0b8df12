package emoji

import (
	"regexp"
	"strings"
)

// repairRe matches, in order, a complete custom emoji token, a
// half-formed token missing its id, and a bare :name: reference.
var repairRe = regexp.MustCompile(`<a?:\w+:\d+>|<a?:\w+:>|:(\w+):`)

// Repair rewrites half-formed emoji references in s into complete
// transport tokens, resolving names against guildID's set first.
// Complete tokens pass through untouched and unknown or ambiguous
// names stay as written, so repairing twice equals repairing once.
func (r *Registry) Repair(s, guildID string) string {
	if !strings.Contains(s, ":") {
		return s
	}
	return repairRe.ReplaceAllStringFunc(s, func(m string) string {
		name, ok := repairableName(m)
		if !ok {
			return m
		}
		e, resolved := r.resolve(name, guildID)
		if !resolved {
			return m
		}
		return e.Token()
	})
}

// repairableName extracts the emoji name from a half token or a bare
// reference. Complete tokens report false so they are left alone.
func repairableName(m string) (string, bool) {
	switch {
	case strings.HasPrefix(m, "<a:"):
		if strings.HasSuffix(m, ":>") {
			return m[3 : len(m)-2], true
		}
	case strings.HasPrefix(m, "<:"):
		if strings.HasSuffix(m, ":>") {
			return m[2 : len(m)-2], true
		}
	case strings.HasPrefix(m, ":") && strings.HasSuffix(m, ":"):
		return m[1 : len(m)-1], true
	}
	return "", false
}
