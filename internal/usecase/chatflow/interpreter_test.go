package chatflow

import (
	"encoding/json"
	"testing"

	"draftpilot/internal/domain"
)

func newTurn() (*State, *Interpreter) {
	st := NewState(nil)
	st.Submit(domain.Message{ID: "u1", Role: domain.RoleUser, Parts: []domain.Part{domain.NewTextPart("hi")}}, nil)
	st.AppendAssistant(domain.Message{ID: "a1", Role: domain.RoleAssistant, Parts: []domain.Part{}})
	return st, NewInterpreter(st, "a1")
}

func assistantParts(t *testing.T, st *State, id string) []domain.Part {
	t.Helper()
	msg, ok := st.Message(id)
	if !ok {
		t.Fatalf("message %q not found", id)
	}
	return msg.Parts
}

func TestInterpreterStartRenamesMessage(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventStart, MessageID: "srv-9", ModelID: "demo"})

	if it.MessageID() != "srv-9" {
		t.Fatalf("interpreter id = %q, want srv-9", it.MessageID())
	}
	if _, ok := st.Message("a1"); ok {
		t.Error("placeholder id should be gone")
	}
	msg, ok := st.Message("srv-9")
	if !ok {
		t.Fatal("renamed message not found")
	}
	if msg.Model != "demo" {
		t.Errorf("model = %q, want demo", msg.Model)
	}
}

func TestInterpreterStartWithoutPayloadIsNoop(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventStart})

	if it.MessageID() != "a1" {
		t.Fatalf("id changed to %q", it.MessageID())
	}
	if _, ok := st.Message("a1"); !ok {
		t.Fatal("placeholder should survive an empty start")
	}
}

func TestInterpreterTextLifecycle(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "hel"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "lo"})

	parts := assistantParts(t, st, "a1")
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0].Text != "hello" || parts[0].State != domain.StateStreaming {
		t.Fatalf("mid-stream part = %+v", parts[0])
	}

	it.Apply(domain.StreamEvent{Type: domain.EventTextEnd, ID: "t1"})
	parts = assistantParts(t, st, "a1")
	if parts[0].State != domain.StateDone {
		t.Errorf("state after end = %q", parts[0].State)
	}
}

func TestInterpreterReasoningThenText(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventStartStep})
	it.Apply(domain.StreamEvent{Type: domain.EventReasoningStart, ID: "r1"})
	it.Apply(domain.StreamEvent{Type: domain.EventReasoningDelta, ID: "r1", Delta: "think"})
	it.Apply(domain.StreamEvent{Type: domain.EventReasoningEnd, ID: "r1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "answer"})

	parts := assistantParts(t, st, "a1")
	if len(parts) != 3 {
		t.Fatalf("expected step-start, reasoning, text; got %d parts", len(parts))
	}
	if parts[0].Type != domain.PartStepStart {
		t.Errorf("parts[0].Type = %q", parts[0].Type)
	}
	if parts[1].Type != domain.PartReasoning || parts[1].Text != "think" || parts[1].State != domain.StateDone {
		t.Errorf("reasoning part = %+v", parts[1])
	}
	if parts[2].Type != domain.PartText || parts[2].Text != "answer" {
		t.Errorf("text part = %+v", parts[2])
	}
}

// Deltas address the most recent part of their type, so a second text
// block accumulates independently of the first.
func TestInterpreterDeltaTargetsLastOfType(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "first"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextEnd, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t2"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t2", Delta: "second"})

	parts := assistantParts(t, st, "a1")
	if len(parts) != 2 {
		t.Fatalf("expected 2 text parts, got %d", len(parts))
	}
	if parts[0].Text != "first" || parts[1].Text != "second" {
		t.Errorf("texts = %q, %q", parts[0].Text, parts[1].Text)
	}
}

func TestInterpreterToolCallLifecycle(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventToolInputStart, ToolCallID: "c1", ToolName: "suggest_edit"})
	it.Apply(domain.StreamEvent{Type: domain.EventToolInputDelta, ToolCallID: "c1", InputTextDelta: `{"x"`})
	it.Apply(domain.StreamEvent{Type: domain.EventToolInputDelta, ToolCallID: "c1", InputTextDelta: `:1}`})

	parts := assistantParts(t, st, "a1")
	if len(parts) != 1 || parts[0].Type != domain.PartToolCall {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].State != domain.StateStreamingInput || parts[0].InputText != `{"x":1}` {
		t.Fatalf("streaming-input part = %+v", parts[0])
	}

	it.Apply(domain.StreamEvent{Type: domain.EventToolInputAvailable, ToolCallID: "c1", Input: json.RawMessage(`{"x":1}`)})
	parts = assistantParts(t, st, "a1")
	if parts[0].State != domain.StateInputAvailable || string(parts[0].Input) != `{"x":1}` {
		t.Fatalf("input-available part = %+v", parts[0])
	}

	it.Apply(domain.StreamEvent{Type: domain.EventToolOutputAvailable, ToolCallID: "c1", Output: json.RawMessage(`{"ok":true}`)})
	parts = assistantParts(t, st, "a1")
	if parts[0].State != domain.StateOutputAvailable || string(parts[0].Output) != `{"ok":true}` {
		t.Fatalf("output-available part = %+v", parts[0])
	}
}

// Interleaved tool calls correlate strictly by toolCallId, never by
// position.
func TestInterpreterInterleavedToolCalls(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventToolInputStart, ToolCallID: "c1", ToolName: "suggest_edit"})
	it.Apply(domain.StreamEvent{Type: domain.EventToolInputStart, ToolCallID: "c2", ToolName: "suggest_rewrite"})
	it.Apply(domain.StreamEvent{Type: domain.EventToolInputDelta, ToolCallID: "c1", InputTextDelta: "one"})
	it.Apply(domain.StreamEvent{Type: domain.EventToolInputDelta, ToolCallID: "c2", InputTextDelta: "two"})
	it.Apply(domain.StreamEvent{Type: domain.EventToolOutputAvailable, ToolCallID: "c1", Output: json.RawMessage(`1`)})

	parts := assistantParts(t, st, "a1")
	if len(parts) != 2 {
		t.Fatalf("expected 2 tool parts, got %d", len(parts))
	}
	if parts[0].InputText != "one" || parts[1].InputText != "two" {
		t.Errorf("input texts = %q, %q", parts[0].InputText, parts[1].InputText)
	}
	if parts[0].State != domain.StateOutputAvailable {
		t.Errorf("c1 state = %q", parts[0].State)
	}
	if parts[1].State != domain.StateStreamingInput {
		t.Errorf("c2 state = %q", parts[1].State)
	}
}

func TestInterpreterUnknownEventIgnored(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "keep"})
	before := assistantParts(t, st, "a1")

	it.Feed([]byte(`{"type":"totally-new-event","payload":42}`))

	after := assistantParts(t, st, "a1")
	if len(after) != len(before) || after[0].Text != "keep" {
		t.Fatalf("unknown event mutated state: %+v", after)
	}
}

func TestInterpreterMalformedFrameDiscarded(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Feed([]byte(`{"type":"text-delta","delta":`)) // truncated JSON
	it.Feed([]byte(`{"type":"text-delta","id":"t1","delta":"ok"}`))

	parts := assistantParts(t, st, "a1")
	if parts[0].Text != "ok" {
		t.Fatalf("text = %q, want ok", parts[0].Text)
	}
	if it.Err() != nil {
		t.Errorf("malformed frame must not raise a stream error: %v", it.Err())
	}
}

func TestInterpreterFinishError(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextStart, ID: "t1"})
	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "partial"})
	it.Apply(domain.StreamEvent{
		Type:         domain.EventFinish,
		FinishReason: domain.FinishReasonError,
		Error:        &domain.StreamError{Message: "model exploded"},
	})

	if it.Err() == nil || it.Err().Error() != "model exploded" {
		t.Fatalf("stream err = %v", it.Err())
	}
	// The partial content is not rolled back.
	parts := assistantParts(t, st, "a1")
	if parts[0].Text != "partial" {
		t.Errorf("partial text lost: %+v", parts[0])
	}
}

func TestInterpreterFinishStopNoError(t *testing.T) {
	_, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventFinish, FinishReason: "stop"})

	if it.Err() != nil {
		t.Fatalf("unexpected error: %v", it.Err())
	}
}

func TestInterpreterDeltaWithoutOpenPartDropped(t *testing.T) {
	st, it := newTurn()

	it.Apply(domain.StreamEvent{Type: domain.EventTextDelta, ID: "t1", Delta: "orphan"})

	if parts := assistantParts(t, st, "a1"); len(parts) != 0 {
		t.Fatalf("orphan delta created parts: %+v", parts)
	}
}
