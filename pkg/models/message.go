package models

import (
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a multimodal message part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a multimodal message body.
// Exactly one of Text, (MIME, Data) or TaskID is meaningful,
// selected by Type.
type Part struct {
	Type PartType `json:"type"`

	// Text content, for PartText.
	Text string `json:"text,omitempty"`

	// Inline image payload, for PartImage. Data is base64-encoded.
	MIME string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`

	// TaskID references a tool execution result, for PartToolResult.
	TaskID string `json:"task_id,omitempty"`
}

// IsImage reports whether the part carries inline image data.
func (p Part) IsImage() bool { return p.Type == PartImage }

// MessageMeta carries ordering and attribution data for a message.
type MessageMeta struct {
	// OriginID is the originator-assigned message id used for
	// de-duplication. Empty ids never collide.
	OriginID string `json:"origin_id,omitempty"`

	// Timestamp orders messages. The zero value means "unknown";
	// the collector assigns a receive-order instant in that case.
	Timestamp time.Time `json:"timestamp"`

	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	FromBot    bool   `json:"from_bot,omitempty"`
}

// Message is a single conversation entry. Content holds plain text;
// a non-empty Parts list supersedes Content for multimodal bodies.
// Messages are immutable once collected.
type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content,omitempty"`
	Parts   []Part      `json:"parts,omitempty"`
	Meta    MessageMeta `json:"meta"`
}

// Text returns the textual content of the message, concatenating text
// parts when the message is multimodal.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ImageCount reports how many image parts the message carries.
func (m Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartImage {
			n++
		}
	}
	return n
}
