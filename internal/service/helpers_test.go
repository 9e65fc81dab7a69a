package service_test

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"polychat/internal/llm"
	mock_llm "polychat/internal/llm/mocks"
	"polychat/internal/model"
	mock_repo "polychat/internal/repository/mocks"
	"polychat/internal/service"
)

type Mocks struct {
	chats     *mock_repo.MockChatRepository
	settings  *mock_repo.MockSettingsRepository
	directory *mock_llm.MockDirectory
	provider  *mock_llm.MockProvider
}

func newMocks(t *testing.T) Mocks {
	return Mocks{
		chats:     mock_repo.NewMockChatRepository(t),
		settings:  mock_repo.NewMockSettingsRepository(t),
		directory: mock_llm.NewMockDirectory(t),
		provider:  mock_llm.NewMockProvider(t),
	}
}

// storedSettings makes every settings read return values.
func (m Mocks) storedSettings(values map[string]string) {
	m.settings.On("GetAll", mock.Anything).Return(values, nil).Maybe()
}

func defaultSettings() map[string]string {
	return map[string]string{
		service.KeySystemPrompt:     "You are a helpful assistant.",
		service.KeySelectedProvider: "ollama",
		service.KeySelectedModel:    "llama3",
		service.KeyFreeModelsOnly:   "false",
		service.KeyAutoTitle:        "false",
	}
}

func setupChatService(t *testing.T) (*service.ChatService, Mocks) {
	m := newMocks(t)
	settings := service.NewSettingsService(m.settings, nil, zap.NewNop())
	return service.NewChatService(m.chats, m.directory, settings, zap.NewNop()), m
}

// replyWith makes the provider stream chunks and then close the channel.
func replyWith(chunks ...llm.StreamResponse) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ch := args.Get(2).(chan<- llm.StreamResponse)
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
	}
}

// collect runs a streaming call and returns everything it sent.
func collect(fn func(ch chan<- model.StreamResponse)) []model.StreamResponse {
	ch := make(chan model.StreamResponse)
	go fn(ch)
	var out []model.StreamResponse
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func contentOf(chunks []model.StreamResponse) string {
	var s string
	for _, c := range chunks {
		s += c.Content
	}
	return s
}
