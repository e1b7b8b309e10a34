package chatflow

import (
	"fmt"

	"draftpilot/internal/domain"
)

// Interpreter maps decoded stream events onto the in-progress assistant
// message. Each event applies exactly one mutation through the state
// store. Unknown event types and malformed frames are ignored so the
// producer can evolve without breaking older clients.
//
// Reasoning and text deltas address the most recent part of their type:
// the producer closes one block before opening another, so same-type
// blocks are never concurrently open within a step. Tool-call events carry
// an explicit toolCallId because several tool calls can be in flight at
// once.
type Interpreter struct {
	state     *State
	messageID string
	streamErr error
}

// NewInterpreter binds an interpreter to the assistant message it owns for
// this turn. The id is captured at turn start so a canceled turn's late
// events can never touch a newer turn's message.
func NewInterpreter(state *State, assistantMessageID string) *Interpreter {
	return &Interpreter{state: state, messageID: assistantMessageID}
}

// MessageID returns the current assistant message id, which a start event
// may have reassigned to the server's id.
func (it *Interpreter) MessageID() string { return it.messageID }

// Err returns the deferred in-band stream error recorded by a finish
// event, nil otherwise.
func (it *Interpreter) Err() error { return it.streamErr }

// Feed decodes one frame payload and applies it. Frames that are not
// valid JSON are dropped; a single bad frame must not abort the stream.
func (it *Interpreter) Feed(data []byte) {
	ev, ok := domain.ParseStreamEvent(data)
	if !ok {
		return
	}
	it.Apply(ev)
}

// Apply performs the single state mutation for one event.
func (it *Interpreter) Apply(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventStart:
		if ev.MessageID == "" && ev.ModelID == "" {
			return
		}
		it.state.Rename(it.messageID, ev.MessageID, ev.ModelID)
		if ev.MessageID != "" {
			it.messageID = ev.MessageID
		}

	case domain.EventStartStep:
		it.appendPart(domain.Part{Type: domain.PartStepStart})

	case domain.EventReasoningStart:
		it.appendPart(domain.Part{Type: domain.PartReasoning, State: domain.StateStreaming})

	case domain.EventReasoningDelta:
		if ev.Delta == "" {
			return
		}
		it.appendToLast(domain.PartReasoning, ev.Delta)

	case domain.EventReasoningEnd:
		it.closeLast(domain.PartReasoning)

	case domain.EventTextStart:
		it.appendPart(domain.Part{Type: domain.PartText, State: domain.StateStreaming})

	case domain.EventTextDelta:
		if ev.Delta == "" {
			return
		}
		it.appendToLast(domain.PartText, ev.Delta)

	case domain.EventTextEnd:
		it.closeLast(domain.PartText)

	case domain.EventToolInputStart:
		it.appendPart(domain.Part{
			Type:       domain.PartToolCall,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			State:      domain.StateStreamingInput,
		})

	case domain.EventToolInputDelta:
		it.mutateToolCall(ev.ToolCallID, func(p *domain.Part) {
			p.InputText += ev.InputTextDelta
		})

	case domain.EventToolInputAvailable:
		it.mutateToolCall(ev.ToolCallID, func(p *domain.Part) {
			p.State = domain.StateInputAvailable
			p.Input = ev.Input
		})

	case domain.EventToolOutputAvailable:
		it.mutateToolCall(ev.ToolCallID, func(p *domain.Part) {
			p.State = domain.StateOutputAvailable
			p.Output = ev.Output
		})

	case domain.EventFinishStep:
		// Reserved by the protocol; nothing to do yet.

	case domain.EventFinish:
		if ev.FinishReason == domain.FinishReasonError {
			msg := "stream finished with error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			it.streamErr = fmt.Errorf("%s", msg)
		}

	default:
		// Unknown event type: ignored for forward compatibility.
	}
}

func (it *Interpreter) appendPart(p domain.Part) {
	it.state.MutateParts(it.messageID, func(parts []domain.Part) []domain.Part {
		return append(parts, p)
	})
}

// appendToLast grows the text of the most recent part of the given type.
// A delta with no open part to receive it is dropped.
func (it *Interpreter) appendToLast(typ domain.PartType, delta string) {
	it.state.MutateParts(it.messageID, func(parts []domain.Part) []domain.Part {
		if i := lastIndexOfType(parts, typ); i >= 0 {
			parts[i].Text += delta
		}
		return parts
	})
}

func (it *Interpreter) closeLast(typ domain.PartType) {
	it.state.MutateParts(it.messageID, func(parts []domain.Part) []domain.Part {
		if i := lastIndexOfType(parts, typ); i >= 0 {
			parts[i].State = domain.StateDone
		}
		return parts
	})
}

// mutateToolCall edits the tool-call part matching the id. Events for an
// absent id are dropped, mirroring the delta rule.
func (it *Interpreter) mutateToolCall(toolCallID string, fn func(*domain.Part)) {
	it.state.MutateParts(it.messageID, func(parts []domain.Part) []domain.Part {
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i].Type == domain.PartToolCall && parts[i].ToolCallID == toolCallID {
				fn(&parts[i])
				break
			}
		}
		return parts
	})
}

func lastIndexOfType(parts []domain.Part, typ domain.PartType) int {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == typ {
			return i
		}
	}
	return -1
}
