package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"draftpilot/internal/domain"
)

// editorContext is the structured document context the editor embeds in
// the user message text.
type editorContext struct {
	Mode      string `json:"mode"` // "fulltext" | "selection"
	Content   string `json:"content"`
	Selection *struct {
		From int    `json:"from"`
		To   int    `json:"to"`
		Text string `json:"text"`
	} `json:"selection,omitempty"`
}

// editorPayload is the full structured request: document context plus the
// user's instruction.
type editorPayload struct {
	Context     *editorContext `json:"context"`
	UserRequest string         `json:"userRequest"`
}

// streamRequest is the body of a streaming turn request.
type streamRequest struct {
	ID       string           `json:"id"`
	Messages []domain.Message `json:"messages"`
	Model    string           `json:"model"`
	Trigger  string           `json:"trigger"`
}

// handleAgentEditorStream synthesizes a copilot response for the editor:
// a reasoning block, one suggestion tool call streamed character by
// character, and a closing text block. Selection mode offers rewrites of
// the selected passage; fulltext mode offers per-sentence edits.
func (s *Server) handleAgentEditorStream(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	userText := lastUserText(req.Messages)
	payload := parseEditorPayload(userText)

	userRequest := userText
	var ec editorContext
	if payload != nil {
		if payload.UserRequest != "" {
			userRequest = payload.UserRequest
		}
		if payload.Context != nil {
			ec = *payload.Context
		}
	}
	selectionMode := ec.Mode == "selection"

	s.logger.Info("agent editor stream",
		"chat_id", chatID,
		"mode", ec.Mode,
		"request", userRequest,
	)
	streamsStarted.WithLabelValues("agent-editor").Inc()

	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sc := scripter{w: sw, ctx: r.Context(), charDelay: s.cfg.Stream.CharDelay, stepDelay: s.cfg.Stream.StepDelay}

	messageID := domain.NewID()
	reasoningID := "rs_" + domain.NewID()
	textID := "msg_" + domain.NewID()

	sc.event(domain.StreamEvent{Type: domain.EventStart, MessageID: messageID, ModelID: req.Model})
	sc.step()
	sc.event(domain.StreamEvent{Type: domain.EventStartStep})
	sc.step()

	var reasoning string
	if selectionMode {
		reasoning = fmt.Sprintf("用户选中了一段文字：%q，请求是：%q。我将生成多个改写方案供用户选择。",
			clip(ec.Content, 30), userRequest)
	} else {
		reasoning = fmt.Sprintf("用户请求对全文进行处理：%q。我将分析全文并提供修改建议。", userRequest)
	}

	sc.event(domain.StreamEvent{Type: domain.EventReasoningStart, ID: reasoningID})
	for _, ch := range reasoning {
		sc.event(domain.StreamEvent{Type: domain.EventReasoningDelta, ID: reasoningID, Delta: string(ch)})
		sc.char()
	}
	sc.event(domain.StreamEvent{Type: domain.EventReasoningEnd, ID: reasoningID})
	sc.step()

	var suggestions []domain.Suggestion
	var toolName string
	if selectionMode {
		toolName = domain.ToolSuggestRewrite
		suggestions = rewriteSuggestions(ec.Content)
	} else {
		toolName = domain.ToolSuggestEdit
		suggestions = editSuggestions(ec.Content)
	}
	sc.toolCall(toolName, suggestions)

	var closing string
	switch {
	case selectionMode:
		closing = fmt.Sprintf("我为你生成了 %d 个改写方案，请选择一个应用到编辑器中：", len(suggestions))
	case len(suggestions) > 0:
		closing = fmt.Sprintf("我分析了全文内容，建议对以下 %d 处进行修改：", len(suggestions))
	default:
		closing = fmt.Sprintf("我已阅读全文内容。关于你的请求%q，我的建议是：保持当前内容，它已经很好了。", userRequest)
	}

	sc.event(domain.StreamEvent{Type: domain.EventTextStart, ID: textID})
	for _, ch := range closing {
		sc.event(domain.StreamEvent{Type: domain.EventTextDelta, ID: textID, Delta: string(ch)})
		sc.char()
	}
	sc.event(domain.StreamEvent{Type: domain.EventTextEnd, ID: textID})
	sc.step()

	sc.event(domain.StreamEvent{Type: domain.EventFinishStep})
	sc.event(domain.StreamEvent{Type: domain.EventFinish, FinishReason: "stop"})
	sc.doneFrame()
}

// scripter sequences scripted frames with configured pacing, stopping
// quietly once the client goes away.
type scripter struct {
	w         *sseWriter
	ctx       context.Context
	charDelay time.Duration
	stepDelay time.Duration
	failed    bool
}

func (sc *scripter) event(ev domain.StreamEvent) {
	if sc.failed || sc.ctx.Err() != nil {
		sc.failed = true
		return
	}
	if err := sc.w.send(ev); err != nil {
		sc.failed = true
		return
	}
	streamEventsEmitted.WithLabelValues(string(ev.Type)).Inc()
}

func (sc *scripter) doneFrame() {
	if sc.failed || sc.ctx.Err() != nil {
		return
	}
	_ = sc.w.done()
}

func (sc *scripter) char() { sc.pause(sc.charDelay) }
func (sc *scripter) step() { sc.pause(sc.stepDelay) }

func (sc *scripter) pause(d time.Duration) {
	if sc.failed || d <= 0 {
		return
	}
	select {
	case <-sc.ctx.Done():
		sc.failed = true
	case <-time.After(d):
	}
}

// toolCall streams one suggestion tool call end to end: input deltas
// character by character, then the complete input, then the output.
func (sc *scripter) toolCall(toolName string, suggestions []domain.Suggestion) {
	toolCallID := "call_" + domain.NewID()
	input := domain.EncodeSuggestionInput(domain.SuggestionInput{Suggestions: suggestions})

	sc.event(domain.StreamEvent{Type: domain.EventToolInputStart, ToolCallID: toolCallID, ToolName: toolName})
	sc.step()
	for _, ch := range string(input) {
		sc.event(domain.StreamEvent{Type: domain.EventToolInputDelta, ToolCallID: toolCallID, InputTextDelta: string(ch)})
		sc.char()
	}
	sc.event(domain.StreamEvent{
		Type:       domain.EventToolInputAvailable,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      input,
	})
	sc.step()

	output, _ := json.Marshal(map[string]any{"success": true, "count": len(suggestions)})
	sc.event(domain.StreamEvent{Type: domain.EventToolOutputAvailable, ToolCallID: toolCallID, Output: output})
	sc.step()
}

// rewriteSuggestions offers three alternative phrasings of the selection.
func rewriteSuggestions(original string) []domain.Suggestion {
	runes := []rune(original)
	short := string(runes[:len(runes)*7/10])
	return []domain.Suggestion{
		{Label: "更简洁", OriginalText: original, NewText: short + "...（简化版）", Status: domain.SuggestionIdle},
		{Label: "更正式", OriginalText: original, NewText: "尊敬的读者，" + original + "（正式版）", Status: domain.SuggestionIdle},
		{Label: "更生动", OriginalText: original, NewText: original + "！这真是太棒了！（生动版）", Status: domain.SuggestionIdle},
	}
}

// editSuggestions proposes edits to individual sentences of the document.
func editSuggestions(fullText string) []domain.Suggestion {
	sentences := splitSentences(fullText)
	var edits []domain.Suggestion
	if len(sentences) > 0 {
		edits = append(edits, domain.Suggestion{
			Label:        "第 1 处修改",
			OriginalText: sentences[0],
			NewText:      "【优化】" + sentences[0],
			Status:       domain.SuggestionIdle,
		})
	}
	if len(sentences) > 2 {
		edits = append(edits, domain.Suggestion{
			Label:        "第 2 处修改",
			OriginalText: sentences[2],
			NewText:      "【改进】" + sentences[2],
			Status:       domain.SuggestionIdle,
		})
	}
	return edits
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '！', '？', '\n':
			return true
		}
		return false
	})
	var out []string
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func lastUserText(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Text()
}

func parseEditorPayload(text string) *editorPayload {
	var p editorPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil
	}
	return &p
}

// clip shortens s to at most n runes with an ellipsis.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
