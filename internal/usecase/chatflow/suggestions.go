package chatflow

import (
	"draftpilot/internal/domain"
)

// Suggestion updaters: pure []Part -> []Part transforms for use with
// State.MutateParts. They edit suggestion statuses inside suggestion
// tool-call parts and leave everything else untouched. Non-matching
// tool-call ids, foreign tool names, and malformed inputs are all no-ops.

// CancelAllSuggestions moves every idle suggestion in the message to
// canceled. Used when the editor selection context changes or a new turn
// starts, invalidating stale offers.
func CancelAllSuggestions(parts []domain.Part) []domain.Part {
	return updateSuggestions(parts,
		func(domain.Part) bool { return true },
		func(status domain.SuggestionStatus, _ int) domain.SuggestionStatus {
			if status == domain.SuggestionIdle {
				return domain.SuggestionCanceled
			}
			return status
		})
}

// ApplySuggestion marks the suggestion at index checked and cancels every
// sibling under the same tool call that is still idle. Selection mode:
// picking one of N alternatives excludes the rest.
func ApplySuggestion(parts []domain.Part, toolCallID string, index int) []domain.Part {
	return updateSuggestions(parts,
		matchToolCall(toolCallID),
		func(status domain.SuggestionStatus, i int) domain.SuggestionStatus {
			if i == index {
				return domain.SuggestionChecked
			}
			if status == domain.SuggestionIdle {
				return domain.SuggestionCanceled
			}
			return status
		})
}

// CheckSuggestion marks the suggestion at index checked and leaves its
// siblings alone. Full-document mode: each edit is independent.
func CheckSuggestion(parts []domain.Part, toolCallID string, index int) []domain.Part {
	return updateSuggestions(parts,
		matchToolCall(toolCallID),
		func(status domain.SuggestionStatus, i int) domain.SuggestionStatus {
			if i == index {
				return domain.SuggestionChecked
			}
			return status
		})
}

// FailSuggestion marks the suggestion at index failed: the apply-to-document
// operation could not locate its target text.
func FailSuggestion(parts []domain.Part, toolCallID string, index int) []domain.Part {
	return updateSuggestions(parts,
		matchToolCall(toolCallID),
		func(status domain.SuggestionStatus, i int) domain.SuggestionStatus {
			if i == index {
				return domain.SuggestionFailed
			}
			return status
		})
}

// CancelSuggestion marks the suggestion at index canceled (explicit
// per-item rejection).
func CancelSuggestion(parts []domain.Part, toolCallID string, index int) []domain.Part {
	return updateSuggestions(parts,
		matchToolCall(toolCallID),
		func(status domain.SuggestionStatus, i int) domain.SuggestionStatus {
			if i == index {
				return domain.SuggestionCanceled
			}
			return status
		})
}

func matchToolCall(toolCallID string) func(domain.Part) bool {
	return func(p domain.Part) bool { return p.ToolCallID == toolCallID }
}

// updateSuggestions rewrites the status of each suggestion in every
// matching suggestion tool-call part. Parts whose input does not decode as
// a suggestion payload are returned unchanged.
func updateSuggestions(
	parts []domain.Part,
	match func(domain.Part) bool,
	next func(domain.SuggestionStatus, int) domain.SuggestionStatus,
) []domain.Part {
	out := make([]domain.Part, len(parts))
	copy(out, parts)

	for i, p := range out {
		if p.Type != domain.PartToolCall || !domain.IsSuggestionTool(p.ToolName) || !match(p) {
			continue
		}
		input, ok := domain.DecodeSuggestionInput(p.Input)
		if !ok {
			continue
		}
		for j := range input.Suggestions {
			input.Suggestions[j].Status = next(input.Suggestions[j].Status, j)
		}
		out[i].Input = domain.EncodeSuggestionInput(input)
	}
	return out
}
