package interfaces

import (
	"context"

	"polychat/internal/llm"
	"polychat/internal/model"
	"polychat/internal/service"
)

// These are the service contracts the API layer depends on, so handlers can
// be tested against mocks.

// ChatService defines the contract for chat-related business logic.
// Streaming methods always close streamChan.
type ChatService interface {
	ListChats(ctx context.Context) ([]*model.Chat, error)
	GetFullChat(ctx context.Context, chatID string) (*model.FullChat, error)
	RenameChat(ctx context.Context, chatID, newTitle string) error
	DeleteChat(ctx context.Context, chatID string) error
	Resume(ctx context.Context) (*model.FullChat, error)
	BranchChat(ctx context.Context, chatID, messageID string) (*model.FullChat, error)
	ImportChat(ctx context.Context, data []byte) (*model.FullChat, error)
	SendMessage(ctx context.Context, req *service.CreateMessageRequest, streamChan chan<- model.StreamResponse)
	EditMessage(ctx context.Context, chatID, messageID string, req *service.EditMessageRequest, streamChan chan<- model.StreamResponse)
	RegenerateMessage(ctx context.Context, chatID, messageID string, req *service.RegenerateMessageRequest, streamChan chan<- model.StreamResponse)
}

// ModelService defines the contract for model discovery.
type ModelService interface {
	List(ctx context.Context, provider string, freeOnly *bool) ([]llm.ModelInfo, error)
	Providers() []llm.ProviderStatus
}

// SettingsService defines the contract for managing application settings.
type SettingsService interface {
	Get(ctx context.Context) (*service.Settings, error)
	Save(ctx context.Context, settings *service.Settings) error
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// CompareService defines the contract for multi-model comparisons.
// Compare always closes ch.
type CompareService interface {
	Compare(ctx context.Context, req *service.CompareRequest, ch chan<- model.CompareEvent)
	List(ctx context.Context) ([]*model.Comparison, error)
	Get(ctx context.Context, id string) (*model.Comparison, error)
	Delete(ctx context.Context, id string) error
}

var (
	_ ChatService     = (*service.ChatService)(nil)
	_ ModelService    = (*service.ModelService)(nil)
	_ SettingsService = (*service.SettingsService)(nil)
	_ CompareService  = (*service.CompareService)(nil)
)
