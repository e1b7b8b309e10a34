package domain

import "encoding/json"

// SuggestionStatus is the per-suggestion lifecycle. Once a suggestion leaves
// idle the status is terminal, except that a new turn may cancel every idle
// suggestion in the message wholesale.
type SuggestionStatus string

const (
	SuggestionIdle     SuggestionStatus = "idle"
	SuggestionChecked  SuggestionStatus = "checked"
	SuggestionCanceled SuggestionStatus = "canceled"
	SuggestionFailed   SuggestionStatus = "failed"
)

// Suggestion is one proposed document edit surfaced inside a suggestion
// tool-call's input. OriginalText is set for edit suggestions that target a
// specific passage; rewrite suggestions replace the active selection.
type Suggestion struct {
	Label        string           `json:"label,omitempty"`
	OriginalText string           `json:"originalText,omitempty"`
	NewText      string           `json:"newText"`
	Status       SuggestionStatus `json:"status"`
}

// SuggestionInput is the argument payload shared by the suggestion tools.
type SuggestionInput struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// Suggestion-producing tool names. suggest_rewrite offers alternatives for
// a selection (mutually exclusive); suggest_edit proposes independent edits
// across the whole document.
const (
	ToolSuggestRewrite = "suggest_rewrite"
	ToolSuggestEdit    = "suggest_edit"
)

// IsSuggestionTool reports whether toolName produces suggestions.
func IsSuggestionTool(toolName string) bool {
	return toolName == ToolSuggestRewrite || toolName == ToolSuggestEdit
}

func validStatus(s SuggestionStatus) bool {
	switch s {
	case SuggestionIdle, SuggestionChecked, SuggestionCanceled, SuggestionFailed:
		return true
	}
	return false
}

// DecodeSuggestionInput parses a tool-call input as a suggestion payload.
// Returns ok=false for malformed or foreign payloads; callers treat that as
// "not a suggestion tool-call" and leave the part untouched.
func DecodeSuggestionInput(raw json.RawMessage) (SuggestionInput, bool) {
	if len(raw) == 0 {
		return SuggestionInput{}, false
	}
	var in SuggestionInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return SuggestionInput{}, false
	}
	if in.Suggestions == nil {
		return SuggestionInput{}, false
	}
	for _, s := range in.Suggestions {
		if !validStatus(s.Status) {
			return SuggestionInput{}, false
		}
	}
	return in, true
}

// EncodeSuggestionInput serializes a suggestion payload back into a
// tool-call input field.
func EncodeSuggestionInput(in SuggestionInput) json.RawMessage {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return raw
}
