package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyContent rejects message appends whose content is empty or
// whitespace-only; a no-op message is never persisted.
var ErrEmptyContent = errors.New("message content is empty")

const titleMaxRunes = 50

// Conversation is the metadata row for one chat session. The message
// history lives in a separate append-only log keyed by conversation ID.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted entry of a conversation's history. Tool
// messages carry the JSON-encoded tool result as content and reference
// the originating call via ToolCallID.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Name           string    `json:"name,omitempty"`
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	Tokens         int       `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationPreview is a list entry with the latest message excerpt.
type ConversationPreview struct {
	Conversation
	LatestMessage string `json:"latest_message,omitempty"`
}

// ConversationPage is one page of a user's conversation list.
type ConversationPage struct {
	Conversations []ConversationPreview `json:"conversations"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
}

// AppendMessageParams describes one message append.
type AppendMessageParams struct {
	ConversationID string
	Role           string
	Content        string
	Name           string
	ToolCallID     string
	Tokens         int
}

// UpdateConversationParams carries the mutable conversation fields; nil
// means leave unchanged.
type UpdateConversationParams struct {
	Title    *string
	IsActive *bool
}

// ConversationStore persists conversations and their message log.
type ConversationStore struct {
	db           *sql.DB
	defaultModel string
	logger       *slog.Logger
	now          func() time.Time
}

func NewConversationStore(db *sql.DB, defaultModel string, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		db:           db,
		defaultModel: defaultModel,
		logger:       logger,
		now:          time.Now,
	}
}

const conversationColumns = "id, user_id, title, model, is_active, created_at, updated_at"

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetOrCreate returns the user's most recently updated active
// conversation, creating a fresh one when none exists.
func (s *ConversationStore) GetOrCreate(ctx context.Context, userID int64, title string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ? AND is_active = 1
		 ORDER BY updated_at DESC LIMIT 1`, userID)

	conversation, err := scanConversation(row)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("query active conversation: %w", err)
	}

	return s.Create(ctx, userID, title)
}

// Create inserts a new active conversation.
func (s *ConversationStore) Create(ctx context.Context, userID int64, title string) (Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New conversation"
	}
	now := s.now().UTC()
	conversation := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     truncateTitle(title),
		Model:     s.defaultModel,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversation.ID, conversation.UserID, conversation.Title, conversation.Model,
		conversation.IsActive, conversation.CreatedAt, conversation.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", conversation.ID, "user_id", userID)
	return conversation, nil
}

// Get returns one conversation owned by userID.
func (s *ConversationStore) Get(ctx context.Context, id string, userID int64) (Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID)

	conversation, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return conversation, nil
}

// AppendMessage appends one message in a single transaction: insert the
// message, bump the conversation's updated_at, and derive the title from
// the first user message. Empty content is rejected.
func (s *ConversationStore) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	if strings.TrimSpace(params.Content) == "" {
		return Message{}, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, params.ConversationID).Scan(&exists)
	if err != nil {
		return Message{}, fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return Message{}, ErrNotFound
	}

	var priorMessages int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?`,
		params.ConversationID).Scan(&priorMessages)
	if err != nil {
		return Message{}, fmt.Errorf("count messages: %w", err)
	}

	now := s.now().UTC()
	message := Message{
		ID:             uuid.NewString(),
		ConversationID: params.ConversationID,
		Role:           params.Role,
		Content:        params.Content,
		Name:           params.Name,
		ToolCallID:     params.ToolCallID,
		Tokens:         params.Tokens,
		CreatedAt:      now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_messages
			(id, conversation_id, role, content, name, tool_call_id, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ConversationID, message.Role, message.Content,
		message.Name, message.ToolCallID, message.Tokens, message.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if priorMessages == 0 && params.Role == "user" {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
			truncateTitle(params.Content), now, params.ConversationID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			now, params.ConversationID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append: %w", err)
	}
	return message, nil
}

// Messages returns the conversation's history in append order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, name, tool_call_id, tokens, created_at
		 FROM conversation_messages
		 WHERE conversation_id = ?
		 ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.Name, &m.ToolCallID, &m.Tokens, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// List returns one page of the user's active conversations, most
// recently updated first, each with a latest-message preview.
func (s *ConversationStore) List(ctx context.Context, userID int64, page, pageSize int) (ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND is_active = 1`,
		userID).Scan(&total)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ? AND is_active = 1
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	previews := make([]ConversationPreview, 0, pageSize)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return ConversationPage{}, fmt.Errorf("scan conversation: %w", err)
		}
		previews = append(previews, ConversationPreview{Conversation: conversation})
	}
	if err := rows.Err(); err != nil {
		return ConversationPage{}, err
	}

	for i := range previews {
		var latest string
		err := s.db.QueryRowContext(ctx,
			`SELECT content FROM conversation_messages
			 WHERE conversation_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			previews[i].ID).Scan(&latest)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ConversationPage{}, fmt.Errorf("query latest message: %w", err)
		}
		previews[i].LatestMessage = truncateTitle(latest)
	}

	return ConversationPage{
		Conversations: previews,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}

// Update changes title and/or active flag.
func (s *ConversationStore) Update(ctx context.Context, id string, userID int64, params UpdateConversationParams) (Conversation, error) {
	conversation, err := s.Get(ctx, id, userID)
	if err != nil {
		return Conversation{}, err
	}

	if params.Title != nil {
		conversation.Title = truncateTitle(*params.Title)
	}
	if params.IsActive != nil {
		conversation.IsActive = *params.IsActive
	}
	conversation.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, is_active = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		conversation.Title, conversation.IsActive, conversation.UpdatedAt, id, userID)
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return conversation, nil
}

// SoftDelete deactivates the conversation; history is kept.
func (s *ConversationStore) SoftDelete(ctx context.Context, id string, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ?`,
		s.now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("soft delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes the conversation's message log.
func (s *ConversationStore) Clear(ctx context.Context, id string, userID int64) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + "..."
}
