// Package chatflow assembles streamed assistant responses into structured
// messages: a message state store, the stream event interpreter that
// mutates it, the session controller that drives one turn end to end, and
// the suggestion lifecycle updaters used by the editor copilot.
package chatflow

import (
	"sync"

	"draftpilot/internal/domain"
)

// State owns the canonical ordered message list for one chat session plus
// the session status and error. All mutation happens through its methods;
// snapshots returned to callers are copies.
type State struct {
	mu       sync.Mutex
	messages []domain.Message
	status   domain.ChatStatus
	err      error
}

// NewState seeds a session with an initial history.
func NewState(initial []domain.Message) *State {
	return &State{
		messages: domain.CloneMessages(initial),
		status:   domain.StatusReady,
	}
}

// Status returns the current session status.
func (s *State) Status() domain.ChatStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the recorded session error, nil outside the error status.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns a snapshot copy of the message list.
func (s *State) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMessages(s.messages)
}

// Message returns a snapshot of one message by id.
func (s *State) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			m.Parts = m.CloneParts()
			return m, true
		}
	}
	return domain.Message{}, false
}

// Submit replaces the list with base + the new user message, clears any
// previous error and moves the session to submitted.
func (s *State) Submit(user domain.Message, base []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := domain.CloneMessages(base)
	s.messages = append(msgs, user)
	s.status = domain.StatusSubmitted
	s.err = nil
}

// AppendAssistant appends the empty assistant placeholder for the incoming
// response and moves the session to streaming.
func (s *State) AppendAssistant(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.status = domain.StatusStreaming
}

// Rename reassigns a message's id (server-assigned id supersedes the
// client-generated placeholder) and optionally records the model label.
func (s *State) Rename(oldID, newID, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != oldID {
			continue
		}
		if newID != "" {
			s.messages[i].ID = newID
		}
		if model != "" {
			s.messages[i].Model = model
		}
		return
	}
}

// MutateParts applies updater to the named message's parts and stores the
// result. No other message is touched; a missing id is a no-op.
func (s *State) MutateParts(messageID string, updater func([]domain.Part) []domain.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		s.messages[i].Parts = updater(s.messages[i].CloneParts())
		return
	}
}

// Finalize flips every part of the message still streaming to done and
// moves the session to ready. Calling it on an already-finalized message
// changes nothing, so a connection that closes mid-delta cannot leave a
// part permanently streaming.
func (s *State) Finalize(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.StatusReady
	s.closePartsLocked(messageID)
}

// CloseParts flips the named message's streaming parts to done without
// settling the session status. Used when a turn ends in error: the partial
// content stays visible but nothing may stay streaming.
func (s *State) CloseParts(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closePartsLocked(messageID)
}

func (s *State) closePartsLocked(messageID string) {
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		for j := range s.messages[i].Parts {
			if s.messages[i].Parts[j].Streaming() {
				s.messages[i].Parts[j].State = domain.StateDone
			}
		}
		return
	}
}

// SetError records a session-level error.
func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.StatusError
	s.err = err
}

// Abort returns the session to ready. User cancellation is not an error;
// the partial assistant message stays in the list.
func (s *State) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.StatusReady
}

// Remove deletes a message by id. Explicit user action only; streaming
// never removes messages.
func (s *State) Remove(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}
