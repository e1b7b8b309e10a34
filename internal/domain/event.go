package domain

import "encoding/json"

// StreamEventType identifies the kind of server event carried in one SSE frame.
type StreamEventType string

const (
	EventStart               StreamEventType = "start"
	EventStartStep           StreamEventType = "start-step"
	EventReasoningStart      StreamEventType = "reasoning-start"
	EventReasoningDelta      StreamEventType = "reasoning-delta"
	EventReasoningEnd        StreamEventType = "reasoning-end"
	EventTextStart           StreamEventType = "text-start"
	EventTextDelta           StreamEventType = "text-delta"
	EventTextEnd             StreamEventType = "text-end"
	EventToolInputStart      StreamEventType = "tool-input-start"
	EventToolInputDelta      StreamEventType = "tool-input-delta"
	EventToolInputAvailable  StreamEventType = "tool-input-available"
	EventToolOutputAvailable StreamEventType = "tool-output-available"
	EventFinishStep          StreamEventType = "finish-step"
	EventFinish              StreamEventType = "finish"
)

// Known reports whether t is part of the closed event vocabulary. Unknown
// types are ignored by the interpreter so producers can add event kinds
// without breaking older clients.
func (t StreamEventType) Known() bool {
	switch t {
	case EventStart, EventStartStep,
		EventReasoningStart, EventReasoningDelta, EventReasoningEnd,
		EventTextStart, EventTextDelta, EventTextEnd,
		EventToolInputStart, EventToolInputDelta, EventToolInputAvailable, EventToolOutputAvailable,
		EventFinishStep, EventFinish:
		return true
	}
	return false
}

// FinishReasonError marks an in-band stream failure on a finish event.
const FinishReasonError = "error"

// StreamError is the error payload attached to finish events.
type StreamError struct {
	Message string `json:"message"`
}

// StreamEvent is one decoded server event. Type selects which fields carry
// the payload; the rest are zero.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// start
	MessageID string `json:"messageId,omitempty"`
	ModelID   string `json:"modelId,omitempty"`

	// reasoning-* / text-*
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	// tool-*
	ToolCallID     string          `json:"toolCallId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	InputTextDelta string          `json:"inputTextDelta,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`

	// finish
	FinishReason string       `json:"finishReason,omitempty"`
	Error        *StreamError `json:"error,omitempty"`
}

// ParseStreamEvent decodes one frame payload. Malformed JSON returns
// ok=false; the caller discards the frame without aborting the stream.
func ParseStreamEvent(data []byte) (StreamEvent, bool) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StreamEvent{}, false
	}
	return ev, true
}

// Turn triggers forwarded to the server with each request.
const (
	TriggerSubmit     = "submit-message"
	TriggerRegenerate = "regenerate-message"
)

// ChatStatus is the session-level turn state. Ready is the only state from
// which a new turn may be submitted; aborting returns to ready, not error.
type ChatStatus string

const (
	StatusSubmitted ChatStatus = "submitted"
	StatusStreaming ChatStatus = "streaming"
	StatusReady     ChatStatus = "ready"
	StatusError     ChatStatus = "error"
)
