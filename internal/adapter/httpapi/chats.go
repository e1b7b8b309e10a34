package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"draftpilot/internal/domain"
)

// untitledChat is the display title for chats that never got one.
const untitledChat = "New chat"

type createChatRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

type updateChatRequest struct {
	Title *string `json:"title"`
}

type syncMessagesRequest struct {
	Messages []domain.Message `json:"messages"`
}

type updateMessageRequest struct {
	Parts  []domain.Part         `json:"parts,omitempty"`
	Model  *string               `json:"model,omitempty"`
	Status *domain.MessageStatus `json:"status,omitempty"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	chat, err := s.store.CreateChat(r.Context(), domain.CreateChatInput{ID: req.ID, Title: req.Title})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentChat(chat))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := s.store.ListChats(r.Context(), domain.ListChatsParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	for i := range result.Items {
		result.Items[i].ChatEntity = presentChat(result.Items[i].ChatEntity)
	}
	if result.Items == nil {
		result.Items = []domain.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.GetChat(r.Context(), mux.Vars(r)["chatId"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentChat(*chat))
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	var req updateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	chat, err := s.store.UpdateChat(r.Context(), mux.Vars(r)["chatId"], domain.UpdateChatInput{Title: req.Title})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentChat(*chat))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteChat(r.Context(), mux.Vars(r)["chatId"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.Context(), mux.Vars(r)["chatId"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleSyncMessages(w http.ResponseWriter, r *http.Request) {
	var req syncMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.store.SyncMessages(r.Context(), mux.Vars(r)["chatId"], req.Messages); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	vars := mux.Vars(r)
	msg, err := s.store.UpdateMessage(r.Context(), vars["chatId"], vars["messageId"], domain.UpdateMessageInput{
		Parts:  req.Parts,
		Model:  req.Model,
		Status: req.Status,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deleted, err := s.store.DeleteMessage(r.Context(), vars["chatId"], vars["messageId"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// presentChat fills the display title fallback.
func presentChat(chat domain.ChatEntity) domain.ChatEntity {
	if chat.Title == "" {
		chat.Title = untitledChat
	}
	return chat
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, domain.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
