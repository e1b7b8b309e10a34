package domain

import (
	"context"
	"time"
)

// MessageStatus is the persistence-level lifecycle of a stored message.
type MessageStatus string

const (
	MessageDone      MessageStatus = "done"
	MessageStreaming MessageStatus = "streaming"
	MessageAborted   MessageStatus = "aborted"
	MessageError     MessageStatus = "error"
)

// ChatEntity is a stored conversation. DeletedAt is set on soft delete;
// soft-deleted chats are invisible to reads until revived by a new write.
type ChatEntity struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// ChatSummary is a chat list entry with derived display fields.
type ChatSummary struct {
	ChatEntity
	MessageCount       int    `json:"messageCount"`
	LastMessagePreview string `json:"lastMessagePreview,omitempty"`
}

// ListChatsParams selects a page of chats. Cursor is the id of the last
// item from the previous page; zero Limit uses the store default.
type ListChatsParams struct {
	Limit  int
	Cursor string
}

// ListChatsResult is one page of chats, newest-updated first.
type ListChatsResult struct {
	Items      []ChatSummary `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// CreateChatInput names an optional fixed id and title for a new chat.
type CreateChatInput struct {
	ID    string
	Title string
}

// UpdateChatInput carries mutable chat fields. Nil pointers leave the
// stored value unchanged.
type UpdateChatInput struct {
	Title *string
}

// CreateMessageInput inserts one message at the end of a chat.
type CreateMessageInput struct {
	ID        string
	ChatID    string
	Role      string
	Parts     []Part
	Model     string
	Status    MessageStatus
	CreatedAt time.Time
}

// UpdateMessageInput patches a stored message. Nil fields are untouched.
type UpdateMessageInput struct {
	Parts  []Part
	Model  *string
	Status *MessageStatus
}

// ChatStore is the persistence contract for chats and their messages.
type ChatStore interface {
	CreateChat(ctx context.Context, input CreateChatInput) (ChatEntity, error)
	GetChat(ctx context.Context, chatID string) (*ChatEntity, error)
	ListChats(ctx context.Context, params ListChatsParams) (ListChatsResult, error)
	UpdateChat(ctx context.Context, chatID string, input UpdateChatInput) (*ChatEntity, error)
	DeleteChat(ctx context.Context, chatID string) (bool, error)

	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	SyncMessages(ctx context.Context, chatID string, messages []Message) error
	CreateMessage(ctx context.Context, input CreateMessageInput) (Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID string, input UpdateMessageInput) (*Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) (bool, error)
}
