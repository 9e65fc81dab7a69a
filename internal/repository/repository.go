package repository

import (
	"context"

	"polychat/internal/model"
)

// ChatRepository stores conversations and their ordered messages.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListChats(ctx context.Context) ([]*model.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, newTitle string) error
	// TouchChat records the provider and model last used in the chat.
	TouchChat(ctx context.Context, chatID, provider, modelName string) error
	DeleteChat(ctx context.Context, chatID string) error

	// AppendMessage stores message at the end of the chat and sets its Position.
	AppendMessage(ctx context.Context, chatID string, message *model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
	GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error)
	// TruncateFrom deletes every message at position or later.
	TruncateFrom(ctx context.Context, chatID string, position int) error
	// ReplaceFrom atomically truncates at position and stores message there.
	ReplaceFrom(ctx context.Context, chatID string, position int, message *model.Message) error

	// InsertChatWithMessages creates a chat and all of its messages atomically.
	InsertChatWithMessages(ctx context.Context, chat *model.Chat, messages []model.Message) error
}

// SettingsRepository stores named configuration values.
type SettingsRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, key string) error
}

// ComparisonRepository stores finished multi-model comparisons.
type ComparisonRepository interface {
	Save(ctx context.Context, c *model.Comparison) error
	Get(ctx context.Context, id string) (*model.Comparison, error)
	// List returns comparisons newest first.
	List(ctx context.Context) ([]*model.Comparison, error)
	Delete(ctx context.Context, id string) error
}
