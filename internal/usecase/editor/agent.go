// Package editor holds the document side of the copilot flow: a
// plain-text document, the selection the user made in it, and the
// handlers that turn accepted or rejected suggestions into edits.
package editor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"draftpilot/internal/domain"
	"draftpilot/internal/usecase/chatflow"
)

// Selection is a half-open character range [From, To) in the document.
type Selection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Agent owns the document text and applies suggestion outcomes to it.
// Chat and editor never call each other directly; commands arrive over
// the event bus and results are published back on it.
type Agent struct {
	mu        sync.Mutex
	content   string
	selection *Selection

	state  *chatflow.State
	bus    domain.EventBus
	logger *slog.Logger
	unsubs []func()
}

// NewAgent creates a document agent over the given chat state.
func NewAgent(state *chatflow.State, bus domain.EventBus, logger *slog.Logger) *Agent {
	return &Agent{state: state, bus: bus, logger: logger}
}

// Start subscribes the agent to suggestion commands and traces all bus
// traffic for the session at debug level.
func (a *Agent) Start() {
	a.unsubs = append(a.unsubs,
		a.bus.Subscribe(domain.EventSuggestionApplied, a.onApply),
		a.bus.Subscribe(domain.EventSuggestionRejected, a.onReject),
		a.bus.Subscribe(domain.EventSelectionCleared, a.onSelectionCleared),
		a.bus.SubscribeAll(a.traceEvent),
	)
}

func (a *Agent) traceEvent(_ context.Context, ev domain.Event) {
	a.logger.Debug("bus event", "type", string(ev.Type), "chat_id", ev.ChatID)
}

// Stop removes the agent's subscriptions.
func (a *Agent) Stop() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

// SetContent replaces the document text and drops any selection.
func (a *Agent) SetContent(content string) {
	a.mu.Lock()
	a.content = content
	a.selection = nil
	a.mu.Unlock()
}

// Content returns the current document text.
func (a *Agent) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content
}

// Select records the user's selection range, clamped to the document.
func (a *Agent) Select(from, to int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if to > len(a.content) {
		to = len(a.content)
	}
	if from > to {
		from, to = to, from
	}
	a.selection = &Selection{From: from, To: to}
}

// Selection returns the active selection, nil when nothing is selected.
func (a *Agent) Selection() *Selection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selection == nil {
		return nil
	}
	sel := *a.selection
	return &sel
}

// SelectedText returns the text covered by the active selection.
func (a *Agent) SelectedText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selection == nil {
		return ""
	}
	return a.content[a.selection.From:a.selection.To]
}

func (a *Agent) onApply(ctx context.Context, event domain.Event) {
	var cmd domain.SuggestionActionPayload
	if err := json.Unmarshal(event.Payload, &cmd); err != nil {
		a.logger.Warn("bad suggestion payload", "event", string(event.Type), "error", err)
		return
	}

	if cmd.Exclusive {
		a.applySelection(ctx, cmd)
		return
	}
	a.applyFulltext(ctx, cmd)
}

// applySelection replaces the selected range with the suggestion text.
// Accepting one rewrite of a selection dismisses the alternatives.
func (a *Agent) applySelection(ctx context.Context, cmd domain.SuggestionActionPayload) {
	a.mu.Lock()
	if a.selection == nil {
		a.mu.Unlock()
		a.fail(ctx, cmd, "no active selection")
		return
	}
	sel := *a.selection
	a.content = a.content[:sel.From] + cmd.NewText + a.content[sel.To:]
	a.selection = nil
	content := a.content
	a.mu.Unlock()

	a.mutateSuggestions(cmd.ToolCallID, func(parts []domain.Part) []domain.Part {
		return chatflow.ApplySuggestion(parts, cmd.ToolCallID, cmd.SuggestionIndex)
	})
	a.publishDocument(ctx, content)
	a.publish(ctx, domain.Event{Type: domain.EventSelectionCleared, Timestamp: time.Now().UTC()})
}

// applyFulltext replaces the first occurrence of the original text.
// Edits to different passages stay independently actionable.
func (a *Agent) applyFulltext(ctx context.Context, cmd domain.SuggestionActionPayload) {
	a.mu.Lock()
	idx := strings.Index(a.content, cmd.OriginalText)
	if cmd.OriginalText == "" || idx < 0 {
		a.mu.Unlock()
		a.fail(ctx, cmd, "original text not found")
		return
	}
	a.content = a.content[:idx] + cmd.NewText + a.content[idx+len(cmd.OriginalText):]
	content := a.content
	a.mu.Unlock()

	a.mutateSuggestions(cmd.ToolCallID, func(parts []domain.Part) []domain.Part {
		return chatflow.CheckSuggestion(parts, cmd.ToolCallID, cmd.SuggestionIndex)
	})
	a.publishDocument(ctx, content)
}

func (a *Agent) onReject(ctx context.Context, event domain.Event) {
	var cmd domain.SuggestionActionPayload
	if err := json.Unmarshal(event.Payload, &cmd); err != nil {
		a.logger.Warn("bad suggestion payload", "event", string(event.Type), "error", err)
		return
	}
	a.mutateSuggestions(cmd.ToolCallID, func(parts []domain.Part) []domain.Part {
		return chatflow.CancelSuggestion(parts, cmd.ToolCallID, cmd.SuggestionIndex)
	})
}

// onSelectionCleared drops the selection and cancels every suggestion
// still idle: with the selection gone the offers no longer have a target.
func (a *Agent) onSelectionCleared(_ context.Context, _ domain.Event) {
	a.mu.Lock()
	a.selection = nil
	a.mu.Unlock()

	for _, msg := range a.state.Messages() {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		a.state.MutateParts(msg.ID, chatflow.CancelAllSuggestions)
	}
}

// fail marks the suggestion failed and reports it on the bus.
func (a *Agent) fail(ctx context.Context, cmd domain.SuggestionActionPayload, reason string) {
	a.logger.Warn("suggestion not applicable",
		"tool_call_id", cmd.ToolCallID,
		"index", cmd.SuggestionIndex,
		"reason", reason,
	)
	a.mutateSuggestions(cmd.ToolCallID, func(parts []domain.Part) []domain.Part {
		return chatflow.FailSuggestion(parts, cmd.ToolCallID, cmd.SuggestionIndex)
	})
	payload, _ := json.Marshal(cmd)
	a.publish(ctx, domain.Event{
		Type:      domain.EventSuggestionFailed,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// mutateSuggestions locates the assistant message holding the tool call
// and rewrites its parts.
func (a *Agent) mutateSuggestions(toolCallID string, updater func([]domain.Part) []domain.Part) {
	for _, msg := range a.state.Messages() {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		for _, p := range msg.Parts {
			if p.Type == domain.PartToolCall && p.ToolCallID == toolCallID {
				a.state.MutateParts(msg.ID, updater)
				return
			}
		}
	}
	a.logger.Warn("tool call not found in session", "tool_call_id", toolCallID)
}

func (a *Agent) publishDocument(ctx context.Context, content string) {
	payload, _ := json.Marshal(domain.DocumentUpdatedPayload{Content: content})
	a.publish(ctx, domain.Event{
		Type:      domain.EventDocumentUpdated,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

func (a *Agent) publish(ctx context.Context, event domain.Event) {
	if a.bus != nil {
		a.bus.Publish(ctx, event)
	}
}
