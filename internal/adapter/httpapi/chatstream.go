package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"draftpilot/internal/domain"
)

const chatReplyText = "这是一段优化后的非常专业的文本。"

// handleChatStream synthesizes a plain chat reply: one text block streamed
// character by character inside a single step.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	s.logger.Info("chat stream",
		"chat_id", chatID,
		"trigger", req.Trigger,
		"messages", len(req.Messages),
	)
	streamsStarted.WithLabelValues("chat").Inc()

	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sc := scripter{w: sw, ctx: r.Context(), charDelay: s.cfg.Stream.CharDelay, stepDelay: s.cfg.Stream.StepDelay}

	messageID := domain.NewID()
	textID := "msg_" + domain.NewID()

	sc.event(domain.StreamEvent{Type: domain.EventStart, MessageID: messageID, ModelID: req.Model})
	sc.step()
	sc.event(domain.StreamEvent{Type: domain.EventStartStep})
	sc.step()

	sc.event(domain.StreamEvent{Type: domain.EventTextStart, ID: textID})
	for _, ch := range chatReplyText {
		sc.event(domain.StreamEvent{Type: domain.EventTextDelta, ID: textID, Delta: string(ch)})
		sc.char()
	}
	sc.event(domain.StreamEvent{Type: domain.EventTextEnd, ID: textID})
	sc.step()

	sc.event(domain.StreamEvent{Type: domain.EventFinishStep})
	sc.event(domain.StreamEvent{Type: domain.EventFinish, FinishReason: "stop"})
	sc.doneFrame()
}
