// Package store persists chats and messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"draftpilot/internal/domain"
)

// List pagination bounds.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Display derivation limits.
const (
	titleMaxLen   = 28
	previewMaxLen = 120
)

// SQLiteChatStore implements domain.ChatStore using SQLite.
type SQLiteChatStore struct {
	db *sql.DB
}

// NewSQLiteChatStore opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteChatStore(dbPath string) (*SQLiteChatStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chat db: %w", err)
	}
	return &SQLiteChatStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			model      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'done',
			parts      TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq);
		CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at DESC, id DESC);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteChatStore) Close() error {
	return s.db.Close()
}

// CreateChat inserts a chat. An empty input id gets a generated ULID; a
// colliding id on a soft-deleted chat revives it.
func (s *SQLiteChatStore) CreateChat(ctx context.Context, input domain.CreateChatInput) (domain.ChatEntity, error) {
	id := input.ID
	if id == "" {
		id = domain.NewID()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			deleted_at = NULL,
			updated_at = excluded.updated_at`,
		id, input.Title, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return domain.ChatEntity{}, domain.WrapOp("store.CreateChat", err)
	}

	chat, err := s.GetChat(ctx, id)
	if err != nil {
		return domain.ChatEntity{}, err
	}
	return *chat, nil
}

// GetChat returns a chat by id. Soft-deleted chats are not found.
func (s *SQLiteChatStore) GetChat(ctx context.Context, chatID string) (*domain.ChatEntity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM chats WHERE id = ? AND deleted_at IS NULL`, chatID)

	var c domain.ChatEntity
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChatNotFound
		}
		return nil, domain.WrapOp("store.GetChat", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// ListChats returns one page of live chats ordered by updated_at
// descending with id descending as the tiebreak. The cursor is the id of
// the last item of the previous page.
func (s *SQLiteChatStore) ListChats(ctx context.Context, params domain.ListChatsParams) (domain.ListChatsResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	args := []any{}
	where := "c.deleted_at IS NULL"
	if params.Cursor != "" {
		// Items strictly after the cursor row in (updated_at DESC, id DESC)
		// order. A stale cursor yields an empty page, not an error.
		where += ` AND (c.updated_at, c.id) < (
			(SELECT updated_at FROM chats WHERE id = ?),
			?)`
		args = append(args, params.Cursor, params.Cursor)
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id),
			COALESCE((SELECT m.parts FROM messages m WHERE m.chat_id = c.id ORDER BY m.seq DESC LIMIT 1), '[]')
		FROM chats c
		WHERE `+where+`
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ?`, args...)
	if err != nil {
		return domain.ListChatsResult{}, domain.WrapOp("store.ListChats", err)
	}
	defer rows.Close()

	var items []domain.ChatSummary
	for rows.Next() {
		var item domain.ChatSummary
		var createdAt, updatedAt, partsJSON string
		if err := rows.Scan(&item.ID, &item.Title, &createdAt, &updatedAt,
			&item.MessageCount, &partsJSON); err != nil {
			return domain.ListChatsResult{}, domain.WrapOp("store.ListChats", err)
		}
		item.CreatedAt = parseTime(createdAt)
		item.UpdatedAt = parseTime(updatedAt)
		item.LastMessagePreview = previewFromParts(partsJSON)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.ListChatsResult{}, domain.WrapOp("store.ListChats", err)
	}

	result := domain.ListChatsResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.HasMore = true
		result.NextCursor = items[limit-1].ID
	}
	return result, nil
}

// UpdateChat patches mutable chat fields and bumps updated_at.
func (s *SQLiteChatStore) UpdateChat(ctx context.Context, chatID string, input domain.UpdateChatInput) (*domain.ChatEntity, error) {
	if input.Title != nil {
		res, err := s.db.ExecContext(ctx, `
			UPDATE chats SET title = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL`,
			*input.Title, fmtTime(time.Now().UTC()), chatID,
		)
		if err != nil {
			return nil, domain.WrapOp("store.UpdateChat", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrChatNotFound
		}
	}
	return s.GetChat(ctx, chatID)
}

// DeleteChat soft-deletes a chat. It returns false when the chat does not
// exist or is already deleted.
func (s *SQLiteChatStore) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(time.Now().UTC()), chatID,
	)
	if err != nil {
		return false, domain.WrapOp("store.DeleteChat", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListMessages returns a chat's messages in seq order.
func (s *SQLiteChatStore) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, model, status, parts, created_at
		FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, domain.WrapOp("store.ListMessages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows, chatID)
		if err != nil {
			return nil, domain.WrapOp("store.ListMessages", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapOp("store.ListMessages", err)
	}
	return out, nil
}

// SyncMessages replaces a chat's messages wholesale with the given list,
// renumbering seq from the list order. The chat is created (or revived)
// as needed, and its title is derived from the first user message when
// not explicitly set.
func (s *SQLiteChatStore) SyncMessages(ctx context.Context, chatID string, messages []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapOp("store.SyncMessages", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, title, created_at, updated_at, deleted_at)
		VALUES (?, '', ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			deleted_at = NULL,
			updated_at = excluded.updated_at`,
		chatID, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return domain.WrapOp("store.SyncMessages", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return domain.WrapOp("store.SyncMessages", err)
	}

	for seq, msg := range messages {
		if err := insertMessage(ctx, tx, chatID, seq+1, msg); err != nil {
			return domain.WrapOp("store.SyncMessages", err)
		}
	}

	// Backfill the title from the first user message when none was set.
	if title := deriveTitle(messages); title != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE chats SET title = ? WHERE id = ? AND title = ''", title, chatID)
		if err != nil {
			return domain.WrapOp("store.SyncMessages", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapOp("store.SyncMessages", err)
	}
	return nil
}

// CreateMessage appends one message to a chat with seq = max+1.
func (s *SQLiteChatStore) CreateMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error) {
	if _, err := s.GetChat(ctx, input.ChatID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        input.ID,
		ChatID:    input.ChatID,
		Role:      input.Role,
		Model:     input.Model,
		Parts:     input.Parts,
		Status:    input.Status,
		CreatedAt: input.CreatedAt,
	}
	if msg.ID == "" {
		msg.ID = domain.NewID()
	}
	if msg.Status == "" {
		msg.Status = domain.MessageDone
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, domain.WrapOp("store.CreateMessage", err)
	}
	defer tx.Rollback()

	var seq int
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?", input.ChatID)
	if err := row.Scan(&seq); err != nil {
		return domain.Message{}, domain.WrapOp("store.CreateMessage", err)
	}
	if err := insertMessage(ctx, tx, input.ChatID, seq, msg); err != nil {
		return domain.Message{}, domain.WrapOp("store.CreateMessage", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE chats SET updated_at = ? WHERE id = ?", fmtTime(time.Now().UTC()), input.ChatID)
	if err != nil {
		return domain.Message{}, domain.WrapOp("store.CreateMessage", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Message{}, domain.WrapOp("store.CreateMessage", err)
	}
	return msg, nil
}

// UpdateMessage patches a stored message. Nil fields keep their value.
func (s *SQLiteChatStore) UpdateMessage(ctx context.Context, chatID, messageID string, input domain.UpdateMessageInput) (*domain.Message, error) {
	sets := []string{}
	args := []any{}
	if input.Parts != nil {
		partsJSON, err := json.Marshal(input.Parts)
		if err != nil {
			return nil, domain.WrapOp("store.UpdateMessage", err)
		}
		sets = append(sets, "parts = ?")
		args = append(args, string(partsJSON))
	}
	if input.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *input.Model)
	}
	if input.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*input.Status))
	}

	if len(sets) > 0 {
		args = append(args, chatID, messageID)
		res, err := s.db.ExecContext(ctx,
			"UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE chat_id = ? AND id = ?",
			args...)
		if err != nil {
			return nil, domain.WrapOp("store.UpdateMessage", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrMessageNotFound
		}
		_, err = s.db.ExecContext(ctx,
			"UPDATE chats SET updated_at = ? WHERE id = ?", fmtTime(time.Now().UTC()), chatID)
		if err != nil {
			return nil, domain.WrapOp("store.UpdateMessage", err)
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, model, status, parts, created_at
		FROM messages WHERE chat_id = ? AND id = ?`, chatID, messageID)
	msg, err := scanMessage(row, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, domain.WrapOp("store.UpdateMessage", err)
	}
	return &msg, nil
}

// DeleteMessage removes one message. Remaining seq values keep their
// order; gaps are fine.
func (s *SQLiteChatStore) DeleteMessage(ctx context.Context, chatID, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE chat_id = ? AND id = ?", chatID, messageID)
	if err != nil {
		return false, domain.WrapOp("store.DeleteMessage", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, chatID string, seq int, msg domain.Message) error {
	parts := msg.Parts
	if parts == nil {
		parts = []domain.Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	status := msg.Status
	if status == "" {
		status = domain.MessageDone
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, seq, role, model, status, parts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, chatID, seq, msg.Role, msg.Model, string(status), string(partsJSON),
		fmtTime(createdAt),
	)
	return err
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, chatID string) (domain.Message, error) {
	var msg domain.Message
	var status, partsJSON, createdAt string
	if err := row.Scan(&msg.ID, &msg.Role, &msg.Model, &status, &partsJSON, &createdAt); err != nil {
		return domain.Message{}, err
	}
	msg.ChatID = chatID
	msg.Status = domain.MessageStatus(status)
	msg.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(partsJSON), &msg.Parts); err != nil {
		return domain.Message{}, fmt.Errorf("decode parts: %w", err)
	}
	return msg, nil
}

// deriveTitle builds a chat title from the first user message: truncated
// with an ellipsis suffix when it runs long, empty when there is nothing
// to derive from.
func deriveTitle(messages []domain.Message) string {
	for _, m := range messages {
		if m.Role != domain.RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		return clipRunes(text, titleMaxLen, "...")
	}
	return ""
}

// previewFromParts extracts a short text preview from a stored parts blob.
func previewFromParts(partsJSON string) string {
	var parts []domain.Part
	if err := json.Unmarshal([]byte(partsJSON), &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == domain.PartText {
			b.WriteString(p.Text)
		}
	}
	return clipRunes(strings.TrimSpace(b.String()), previewMaxLen, "")
}

// clipRunes shortens s to max characters, not bytes, so multi-byte text
// is never cut mid-rune. Trailing whitespace is trimmed before the suffix.
func clipRunes(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " \t\n") + suffix
}

// timeLayout is RFC 3339 with a fixed-width fractional second, so the
// stored strings sort the same way the times do. Format with RFC3339Nano
// drops trailing zeros, which breaks the cursor's string comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Compile-time interface check.
var _ domain.ChatStore = (*SQLiteChatStore)(nil)
