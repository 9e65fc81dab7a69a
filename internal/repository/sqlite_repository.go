package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"polychat/internal/model"
)

type sqliteChatRepository struct {
	db *sql.DB
}

func NewSQLiteChatRepository(db *sql.DB) ChatRepository {
	return &sqliteChatRepository{db: db}
}

const chatColumns = "id, title, provider, model, created_at, updated_at, branch_source_chat_id, branch_source_message_id, branched_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*model.Chat, error) {
	var chat model.Chat
	var srcChat, srcMsg sql.NullString
	var branchedAt sql.NullTime
	if err := row.Scan(&chat.ID, &chat.Title, &chat.Provider, &chat.Model, &chat.CreatedAt, &chat.UpdatedAt, &srcChat, &srcMsg, &branchedAt); err != nil {
		return nil, err
	}
	if srcChat.Valid {
		chat.BranchOrigin = &model.BranchOrigin{
			SourceChatID:    srcChat.String,
			SourceMessageID: srcMsg.String,
			BranchedAt:      branchedAt.Time,
		}
	}
	return &chat, nil
}

func branchArgs(chat *model.Chat) (sql.NullString, sql.NullString, sql.NullTime) {
	if chat.BranchOrigin == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullTime{}
	}
	o := chat.BranchOrigin
	return sql.NullString{String: o.SourceChatID, Valid: true},
		sql.NullString{String: o.SourceMessageID, Valid: true},
		sql.NullTime{Time: o.BranchedAt.UTC(), Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertChat(ctx context.Context, ex execer, chat *model.Chat) error {
	srcChat, srcMsg, branchedAt := branchArgs(chat)
	query := "INSERT INTO chats (" + chatColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := ex.ExecContext(ctx, query, chat.ID, chat.Title, chat.Provider, chat.Model,
		chat.CreatedAt.UTC(), chat.UpdatedAt.UTC(), srcChat, srcMsg, branchedAt)
	return err
}

func insertMessage(ctx context.Context, ex execer, chatID string, m *model.Message) error {
	query := `
		INSERT INTO messages (id, chat_id, position, role, content, provider, model, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ex.ExecContext(ctx, query, m.ID, chatID, m.Position, m.Role, m.Content,
		nullString(m.Provider), nullString(m.Model), m.Timestamp.UTC())
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteChatRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	return insertChat(ctx, r.db, chat)
}

func (r *sqliteChatRepository) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = ?", chatID)
	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return chat, nil
}

func (r *sqliteChatRepository) ListChats(ctx context.Context) ([]*model.Chat, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+chatColumns+" FROM chats ORDER BY updated_at DESC, created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]*model.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (r *sqliteChatRepository) UpdateChatTitle(ctx context.Context, chatID, newTitle string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE chats SET title = ?, updated_at = ? WHERE id = ?", newTitle, time.Now().UTC(), chatID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteChatRepository) TouchChat(ctx context.Context, chatID, provider, modelName string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE chats SET provider = ?, model = ?, updated_at = ? WHERE id = ?", provider, modelName, time.Now().UTC(), chatID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteChatRepository) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AppendMessage assigns the next position and bumps the chat's updated_at
// in one transaction.
func (r *sqliteChatRepository) AppendMessage(ctx context.Context, chatID string, message *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("could not update chat timestamp: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE chat_id = ?", chatID).Scan(&next); err != nil {
		return fmt.Errorf("could not compute message position: %w", err)
	}
	message.Position = next

	if err := insertMessage(ctx, tx, chatID, message); err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return tx.Commit()
}

const messageColumns = "id, position, role, content, provider, model, timestamp"

func scanMessage(row rowScanner) (*model.Message, error) {
	var msg model.Message
	var provider, modelName sql.NullString
	if err := row.Scan(&msg.ID, &msg.Position, &msg.Role, &msg.Content, &provider, &modelName, &msg.Timestamp); err != nil {
		return nil, err
	}
	if provider.Valid {
		msg.Provider = &provider.String
	}
	if modelName.Valid {
		msg.Model = &modelName.String
	}
	return &msg, nil
}

func (r *sqliteChatRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY position ASC", chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *sqliteChatRepository) GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE chat_id = ? AND id = ?", chatID, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *sqliteChatRepository) TruncateFrom(ctx context.Context, chatID string, position int) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ? AND position >= ?", chatID, position)
	return err
}

// ReplaceFrom deletes every message at position or later and stores
// message in its place, all in one transaction.
func (r *sqliteChatRepository) ReplaceFrom(ctx context.Context, chatID string, position int, message *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("could not update chat timestamp: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ? AND position >= ?", chatID, position); err != nil {
		return fmt.Errorf("could not truncate messages: %w", err)
	}

	message.Position = position
	if err := insertMessage(ctx, tx, chatID, message); err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return tx.Commit()
}

// InsertChatWithMessages stores messages with positions 0..n-1 in slice order.
func (r *sqliteChatRepository) InsertChatWithMessages(ctx context.Context, chat *model.Chat, messages []model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertChat(ctx, tx, chat); err != nil {
		return fmt.Errorf("could not insert chat: %w", err)
	}
	for i := range messages {
		messages[i].Position = i
		if err := insertMessage(ctx, tx, chat.ID, &messages[i]); err != nil {
			return fmt.Errorf("could not insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}
