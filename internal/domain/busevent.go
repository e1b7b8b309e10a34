package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Editor bridge events.
	EventSuggestionApplied  EventType = "suggestion.applied"
	EventSuggestionRejected EventType = "suggestion.rejected"
	EventSuggestionFailed   EventType = "suggestion.failed"
	EventSelectionCleared   EventType = "selection.cleared"
	EventDocumentUpdated    EventType = "document.updated"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ChatID    string          `json:"chat_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// SuggestionActionPayload carries the data for suggestion.applied and
// suggestion.rejected events.
type SuggestionActionPayload struct {
	ToolCallID      string `json:"tool_call_id"`
	SuggestionIndex int    `json:"suggestion_index"`
	OriginalText    string `json:"original_text"`
	NewText         string `json:"new_text"`
	Exclusive       bool   `json:"exclusive"`
}

// DocumentUpdatedPayload carries the new document content after an edit.
type DocumentUpdatedPayload struct {
	Content string `json:"content"`
}
