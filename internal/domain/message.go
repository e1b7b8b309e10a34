package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role constants for message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartType discriminates the Part union.
type PartType string

const (
	PartStepStart PartType = "step-start"
	PartReasoning PartType = "reasoning"
	PartText      PartType = "text"
	PartImage     PartType = "image"
	PartToolCall  PartType = "tool-call"
)

// Part state values. Text and reasoning parts move streaming -> done.
// Tool-call parts move streaming-input -> input-available -> output-available;
// transitions are strictly forward, never reversed.
const (
	StateStreaming       = "streaming"
	StateDone            = "done"
	StateStreamingInput  = "streaming-input"
	StateInputAvailable  = "input-available"
	StateOutputAvailable = "output-available"
)

// Part is one typed fragment of a message's content. The Type field selects
// which of the remaining fields are meaningful.
type Part struct {
	Type PartType `json:"type"`

	// text / reasoning
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`

	// image
	ImageURL string `json:"imageUrl,omitempty"`

	// tool-call. ToolCallID is unique within a message and stable across
	// every event that references it.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	InputText  string          `json:"inputText,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Streaming reports whether the part is still accumulating deltas.
func (p Part) Streaming() bool {
	switch p.Type {
	case PartText, PartReasoning:
		return p.State == StateStreaming
	default:
		return false
	}
}

// NewTextPart builds a completed text part.
func NewTextPart(text string) Part {
	return Part{Type: PartText, Text: text, State: StateDone}
}

// Message is a single entry in a conversation. Parts order is render order
// and reflects arrival order; once a part is done it is never reordered,
// new parts are only appended.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId,omitempty"`
	Role      string        `json:"role"`
	Model     string        `json:"model,omitempty"`
	Parts     []Part        `json:"parts"`
	Status    MessageStatus `json:"status,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Text concatenates the message's text parts in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// CloneParts returns a copy of the parts slice so callers can mutate it
// without aliasing the original. Part values are copied by value; updaters
// replace whole parts rather than editing payloads in place.
func (m Message) CloneParts() []Part {
	cp := make([]Part, len(m.Parts))
	copy(cp, m.Parts)
	return cp
}

// CloneMessages copies a message slice, cloning each message's parts.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m
		out[i].Parts = m.CloneParts()
	}
	return out
}
