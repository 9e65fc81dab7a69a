package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	app_errors "polychat/internal/errors"
	"polychat/internal/export"
	"polychat/internal/llm"
	"polychat/internal/model"
	"polychat/internal/repository"
	"polychat/internal/service"
)

func strPtr(s string) *string { return &s }

func isRole(role string) any {
	return mock.MatchedBy(func(m *model.Message) bool { return m.Role == role })
}

func TestChatService_RenameChat(t *testing.T) {
	ctx := context.Background()
	chatID := "chat123"

	t.Run("Success", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("UpdateChatTitle", ctx, chatID, "New Title").Return(nil).Once()

		err := chatService.RenameChat(ctx, chatID, "  New Title ")
		assert.NoError(t, err)
	})

	t.Run("Failure - Title too long", func(t *testing.T) {
		chatService, _ := setupChatService(t)
		err := chatService.RenameChat(ctx, chatID, strings.Repeat("x", 101))
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	})

	t.Run("Failure - Empty title", func(t *testing.T) {
		chatService, _ := setupChatService(t)
		err := chatService.RenameChat(ctx, chatID, "   ")
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	})

	t.Run("Failure - Repository returns not found", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("UpdateChatTitle", ctx, chatID, "New Title").Return(repository.ErrNotFound).Once()

		err := chatService.RenameChat(ctx, chatID, "New Title")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})
}

func TestChatService_GetFullChat(t *testing.T) {
	ctx := context.Background()
	chatID := "chat123"

	t.Run("Success", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		chat := &model.Chat{ID: chatID, Title: "Test Chat"}
		messages := []model.Message{{ID: "msg1", Content: "Hello"}}
		mocks.chats.On("GetChat", ctx, chatID).Return(chat, nil).Once()
		mocks.chats.On("ListMessages", ctx, chatID).Return(messages, nil).Once()

		fullChat, err := chatService.GetFullChat(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, "Test Chat", fullChat.Title)
		assert.Equal(t, messages, fullChat.Messages)
	})

	t.Run("Failure - Chat not found", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, chatID).Return(nil, repository.ErrNotFound).Once()

		_, err := chatService.GetFullChat(ctx, chatID)
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})

	t.Run("Failure - Messages error", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, chatID).Return(&model.Chat{}, nil).Once()
		mocks.chats.On("ListMessages", ctx, chatID).Return(nil, errors.New("db error")).Once()

		_, err := chatService.GetFullChat(ctx, chatID)
		assert.ErrorContains(t, err, "db error")
	})
}

func TestChatService_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns most recent chat", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("ListChats", ctx).Return([]*model.Chat{{ID: "newest"}, {ID: "older"}}, nil).Once()
		mocks.chats.On("GetChat", ctx, "newest").Return(&model.Chat{ID: "newest", Title: "Latest"}, nil).Once()
		mocks.chats.On("ListMessages", ctx, "newest").Return([]model.Message{{ID: "m1"}}, nil).Once()

		full, err := chatService.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, "newest", full.ID)
		assert.Len(t, full.Messages, 1)
	})

	t.Run("Load failure falls back to a fresh chat", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		mocks.chats.On("ListChats", ctx).Return(nil, errors.New("database is locked")).Once()
		mocks.chats.On("CreateChat", ctx, mock.AnythingOfType("*model.Chat")).Return(nil).Once()

		full, err := chatService.Resume(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, full.ID)
		assert.Equal(t, "New chat", full.Title)
		assert.Equal(t, "llama3", full.Model)
		assert.NotNil(t, full.Messages)
		assert.Empty(t, full.Messages)
	})

	t.Run("Broken last chat falls back to a fresh chat", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		mocks.chats.On("ListChats", ctx).Return([]*model.Chat{{ID: "broken"}}, nil).Once()
		mocks.chats.On("GetChat", ctx, "broken").Return(nil, errors.New("malformed row")).Once()
		mocks.chats.On("CreateChat", ctx, mock.AnythingOfType("*model.Chat")).Return(nil).Once()

		full, err := chatService.Resume(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, "broken", full.ID)
	})
}

func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - New chat", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())

		var created *model.Chat
		mocks.chats.On("CreateChat", ctx, mock.AnythingOfType("*model.Chat")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*model.Chat) }).
			Return(nil).Once()
		mocks.chats.On("AppendMessage", ctx, mock.AnythingOfType("string"), isRole(model.RoleUser)).Return(nil).Once()
		mocks.chats.On("ListMessages", ctx, mock.AnythingOfType("string")).
			Return([]model.Message{{Role: model.RoleUser, Content: "Hello there"}}, nil).Once()
		mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", ctx, mock.MatchedBy(func(r *llm.ChatRequest) bool {
			return r.Model == "llama3" && len(r.Messages) == 2 && r.Messages[0].Role == "system"
		}), mock.Anything).
			Run(replyWith(llm.StreamResponse{Content: "Hi"}, llm.StreamResponse{Content: "!"}, llm.StreamResponse{Done: true})).
			Return(nil).Once()
		mocks.chats.On("AppendMessage", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(m *model.Message) bool {
			return m.Role == model.RoleAssistant && m.Content == "Hi!" && *m.Model == "llama3" && *m.Provider == "ollama"
		})).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, mock.AnythingOfType("string"), "ollama", "llama3").Return(nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{Content: "Hello there"}, ch)
		})

		require.NotNil(t, created)
		assert.Equal(t, "Hello there", created.Title)
		require.Len(t, chunks, 3)
		assert.Equal(t, "Hi!", contentOf(chunks))
		for _, c := range chunks {
			assert.Equal(t, created.ID, c.ChatID)
		}
		last := chunks[len(chunks)-1]
		assert.True(t, last.Done)
		assert.NotEmpty(t, last.MessageID)
		assert.Empty(t, last.Error)
	})

	t.Run("Title is the first 50 runes", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		long := strings.Repeat("ü", 70)

		mocks.chats.On("CreateChat", ctx, mock.MatchedBy(func(c *model.Chat) bool {
			return c.Title == strings.Repeat("ü", 50)
		})).Return(errors.New("stop here")).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{Content: long}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Equal(t, "Could not create chat", chunks[0].Error)
	})

	t.Run("Provider unavailable saves an inline notice", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		chat := &model.Chat{ID: "chat1", Provider: "groq", Model: "mixtral"}

		mocks.chats.On("GetChat", ctx, "chat1").Return(chat, nil).Once()
		mocks.chats.On("AppendMessage", ctx, "chat1", isRole(model.RoleUser)).Return(nil).Once()
		mocks.chats.On("ListMessages", ctx, "chat1").Return([]model.Message{}, nil).Once()
		unavailable := fmt.Errorf("%w: groq API key is not configured", app_errors.ErrProviderUnavailable)
		mocks.directory.On("Provider", llm.Groq).Return(nil, unavailable).Once()

		wantNotice := "There was an issue finding the endpoint for groq: " + unavailable.Error()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", mock.MatchedBy(func(m *model.Message) bool {
			return m.Role == model.RoleAssistant && m.Content == wantNotice
		})).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, "chat1", "groq", "mixtral").Return(nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{
				ChatID:            "chat1",
				Content:           "hi",
				GenerationOptions: service.GenerationOptions{Provider: "groq", Model: "mixtral"},
			}, ch)
		})

		require.Len(t, chunks, 2)
		assert.Equal(t, wantNotice, chunks[0].Content)
		assert.Contains(t, chunks[1].Error, "API key is not configured")
		assert.NotEmpty(t, chunks[1].MessageID)
		assert.False(t, chunks[1].Done)
	})

	t.Run("Mid-stream failure keeps partial content", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())

		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("AppendMessage", ctx, "chat1", isRole(model.RoleUser)).Return(nil).Once()
		mocks.chats.On("ListMessages", ctx, "chat1").Return([]model.Message{}, nil).Once()
		mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", ctx, mock.Anything, mock.Anything).
			Run(replyWith(llm.StreamResponse{Content: "partial"}, llm.StreamResponse{Error: "ollama stream error: out of memory"})).
			Return(errors.New("out of memory")).Once()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", mock.MatchedBy(func(m *model.Message) bool {
			return m.Role == model.RoleAssistant && m.Content == "partial"
		})).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, "chat1", "ollama", "llama3").Return(nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{ChatID: "chat1", Content: "hi"}, ch)
		})

		require.Len(t, chunks, 2)
		assert.Equal(t, "partial", chunks[0].Content)
		assert.Contains(t, chunks[1].Error, "out of memory")
	})

	t.Run("Failure - Chat not found", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		mocks.chats.On("GetChat", ctx, "missing").Return(nil, repository.ErrNotFound).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{ChatID: "missing", Content: "hi"}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Equal(t, "Could not find chat", chunks[0].Error)
	})

	t.Run("Failure - No model selected", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		values := defaultSettings()
		values[service.KeySelectedModel] = ""
		mocks.storedSettings(values)

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{Content: "hi"}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Contains(t, chunks[0].Error, "no model selected")
	})

	t.Run("Failure - Empty content", func(t *testing.T) {
		chatService, _ := setupChatService(t)
		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{Content: "  \n"}, ch)
		})
		require.Len(t, chunks, 1)
		assert.NotEmpty(t, chunks[0].Error)
	})
}

// replyUntilCancelled streams first, then blocks until the request
// context is cancelled and closes the channel like a real provider.
func replyUntilCancelled(first string, cancel context.CancelFunc) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		ch := args.Get(2).(chan<- llm.StreamResponse)
		defer close(ch)
		if first != "" {
			ch <- llm.StreamResponse{Content: first}
		}
		cancel()
		<-ctx.Done()
	}
}

func TestChatService_SendMessage_ClientGone(t *testing.T) {
	t.Run("Partial reply is stored", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mocks.chats.On("GetChat", mock.Anything, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", isRole(model.RoleUser)).Return(nil).Once()
		mocks.chats.On("ListMessages", mock.Anything, "chat1").Return([]model.Message{}, nil).Once()
		mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", mock.Anything, mock.Anything, mock.Anything).
			Run(replyUntilCancelled("Once upon", cancel)).Return(context.Canceled).Once()
		mocks.chats.On("AppendMessage", mock.MatchedBy(func(c context.Context) bool {
			return c.Err() == nil
		}), "chat1", mock.MatchedBy(func(m *model.Message) bool {
			return m.Role == model.RoleAssistant && m.Content == "Once upon"
		})).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, "chat1", "ollama", "llama3").Return(nil).Once()

		// The chunk itself may be dropped once the client is gone.
		collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{ChatID: "chat1", Content: "tell a story"}, ch)
		})
	})

	t.Run("Nothing is stored before the first chunk", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mocks.chats.On("GetChat", mock.Anything, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", isRole(model.RoleUser)).Return(nil).Once()
		mocks.chats.On("ListMessages", mock.Anything, "chat1").Return([]model.Message{}, nil).Once()
		mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", mock.Anything, mock.Anything, mock.Anything).
			Run(replyUntilCancelled("", cancel)).Return(context.Canceled).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.SendMessage(ctx, &service.CreateMessageRequest{ChatID: "chat1", Content: "tell a story"}, ch)
		})

		assert.Empty(t, contentOf(chunks))
		mocks.chats.AssertNumberOfCalls(t, "AppendMessage", 1)
	})
}

func TestChatService_SendMessage_AutoTitle(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t)
	values := defaultSettings()
	values[service.KeyAutoTitle] = "true"
	mocks.storedSettings(values)

	mocks.chats.On("CreateChat", ctx, mock.AnythingOfType("*model.Chat")).Return(nil).Once()
	mocks.chats.On("AppendMessage", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("*model.Message")).Return(nil).Twice()
	mocks.chats.On("ListMessages", ctx, mock.AnythingOfType("string")).Return([]model.Message{{Role: model.RoleUser, Content: "q"}}, nil).Once()
	mocks.chats.On("TouchChat", mock.Anything, mock.AnythingOfType("string"), "ollama", "llama3").Return(nil).Once()
	mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Twice()

	isTitleRequest := func(r *llm.ChatRequest) bool {
		return strings.Contains(r.Messages[0].Content, "titles")
	}
	mocks.provider.On("ChatStream", ctx, mock.MatchedBy(func(r *llm.ChatRequest) bool { return !isTitleRequest(r) }), mock.Anything).
		Run(replyWith(llm.StreamResponse{Content: "answer"}, llm.StreamResponse{Done: true})).
		Return(nil).Once()
	mocks.provider.On("ChatStream", mock.Anything, mock.MatchedBy(isTitleRequest), mock.Anything).
		Run(replyWith(llm.StreamResponse{Content: `"Quick Question"`}, llm.StreamResponse{Done: true})).
		Return(nil).Once()
	mocks.chats.On("UpdateChatTitle", mock.Anything, mock.AnythingOfType("string"), "Quick Question").Return(nil).Once()

	chunks := collect(func(ch chan<- model.StreamResponse) {
		chatService.SendMessage(ctx, &service.CreateMessageRequest{Content: "q"}, ch)
	})
	chatService.Wait()

	assert.True(t, chunks[len(chunks)-1].Done)
}

func TestChatService_EditMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Truncates and resends", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())

		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "u2").Return(&model.Message{ID: "u2", Role: model.RoleUser, Position: 2}, nil).Once()
		mocks.chats.On("ReplaceFrom", ctx, "chat1", 2, mock.MatchedBy(func(m *model.Message) bool {
			return m.Role == model.RoleUser && m.Content == "edited question" && m.ID != "u2"
		})).Return(nil).Once()
		mocks.chats.On("ListMessages", ctx, "chat1").Return([]model.Message{
			{Role: model.RoleUser, Content: "first"},
			{Role: model.RoleAssistant, Content: "reply"},
			{Role: model.RoleUser, Content: "edited question"},
		}, nil).Once()
		mocks.directory.On("Provider", llm.Ollama).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", ctx, mock.MatchedBy(func(r *llm.ChatRequest) bool {
			return len(r.Messages) == 4 && r.Messages[3].Content == "edited question"
		}), mock.Anything).
			Run(replyWith(llm.StreamResponse{Content: "new answer"}, llm.StreamResponse{Done: true})).
			Return(nil).Once()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", isRole(model.RoleAssistant)).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, "chat1", "ollama", "llama3").Return(nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.EditMessage(ctx, "chat1", "u2", &service.EditMessageRequest{Content: "edited question"}, ch)
		})

		assert.Equal(t, "new answer", contentOf(chunks))
		assert.True(t, chunks[len(chunks)-1].Done)
	})

	t.Run("Failure - Replace error stops before streaming", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())

		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "u2").Return(&model.Message{ID: "u2", Role: model.RoleUser, Position: 2}, nil).Once()
		mocks.chats.On("ReplaceFrom", ctx, "chat1", 2, isRole(model.RoleUser)).Return(errors.New("disk full")).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.EditMessage(ctx, "chat1", "u2", &service.EditMessageRequest{Content: "edited question"}, ch)
		})

		require.Len(t, chunks, 1)
		assert.Equal(t, "Could not edit message", chunks[0].Error)
	})

	t.Run("Failure - Assistant messages cannot be edited", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "a1").Return(&model.Message{ID: "a1", Role: model.RoleAssistant}, nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.EditMessage(ctx, "chat1", "a1", &service.EditMessageRequest{Content: "x"}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Equal(t, "only user messages can be edited", chunks[0].Error)
	})

	t.Run("Failure - Message not found", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "nope").Return(nil, repository.ErrNotFound).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.EditMessage(ctx, "chat1", "nope", &service.EditMessageRequest{Content: "x"}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Contains(t, chunks[0].Error, "not found")
	})
}

func TestChatService_RegenerateMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Uses the original model unless overridden", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.storedSettings(defaultSettings())

		original := &model.Message{ID: "a1", Role: model.RoleAssistant, Position: 1, Provider: strPtr("gemini"), Model: strPtr("gemini-1.5-flash")}
		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1", Provider: "gemini", Model: "gemini-1.5-flash"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "a1").Return(original, nil).Once()
		mocks.chats.On("TruncateFrom", ctx, "chat1", 1).Return(nil).Once()
		mocks.chats.On("ListMessages", ctx, "chat1").Return([]model.Message{{Role: model.RoleUser, Content: "q"}}, nil).Once()
		mocks.directory.On("Provider", llm.Gemini).Return(mocks.provider, nil).Once()
		mocks.provider.On("ChatStream", ctx, mock.MatchedBy(func(r *llm.ChatRequest) bool {
			return r.Model == "gemini-1.5-pro"
		}), mock.Anything).
			Run(replyWith(llm.StreamResponse{Content: "again"}, llm.StreamResponse{Done: true})).
			Return(nil).Once()
		mocks.chats.On("AppendMessage", mock.Anything, "chat1", isRole(model.RoleAssistant)).Return(nil).Once()
		mocks.chats.On("TouchChat", mock.Anything, "chat1", "gemini", "gemini-1.5-pro").Return(nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.RegenerateMessage(ctx, "chat1", "a1", &service.RegenerateMessageRequest{
				GenerationOptions: service.GenerationOptions{Model: "gemini-1.5-pro"},
			}, ch)
		})

		assert.Equal(t, "again", contentOf(chunks))
		assert.True(t, chunks[len(chunks)-1].Done)
	})

	t.Run("Failure - User messages cannot be regenerated", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, "chat1").Return(&model.Chat{ID: "chat1"}, nil).Once()
		mocks.chats.On("GetMessage", ctx, "chat1", "u1").Return(&model.Message{ID: "u1", Role: model.RoleUser}, nil).Once()

		chunks := collect(func(ch chan<- model.StreamResponse) {
			chatService.RegenerateMessage(ctx, "chat1", "u1", &service.RegenerateMessageRequest{}, ch)
		})
		require.Len(t, chunks, 1)
		assert.Equal(t, "only assistant messages can be regenerated", chunks[0].Error)
	})
}

func TestChatService_BranchChat(t *testing.T) {
	ctx := context.Background()
	source := &model.Chat{ID: "src", Title: "Trip plan", Provider: "ollama", Model: "llama3"}
	messages := []model.Message{
		{ID: "m0", Position: 0, Role: model.RoleUser, Content: "Where to?"},
		{ID: "m1", Position: 1, Role: model.RoleAssistant, Content: "Lisbon", Model: strPtr("llama3")},
		{ID: "m2", Position: 2, Role: model.RoleUser, Content: "When?"},
	}

	t.Run("Success", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, "src").Return(source, nil).Once()
		mocks.chats.On("ListMessages", ctx, "src").Return(messages, nil).Once()

		var stored []model.Message
		mocks.chats.On("InsertChatWithMessages", ctx, mock.MatchedBy(func(c *model.Chat) bool {
			return c.Title == "Trip plan (branch)" && c.BranchOrigin != nil &&
				c.BranchOrigin.SourceChatID == "src" && c.BranchOrigin.SourceMessageID == "m1" && c.ID != "src"
		}), mock.Anything).
			Run(func(args mock.Arguments) { stored = args.Get(2).([]model.Message) }).
			Return(nil).Once()

		branch, err := chatService.BranchChat(ctx, "src", "m1")
		require.NoError(t, err)

		require.Len(t, stored, 2)
		assert.Equal(t, "Where to?", stored[0].Content)
		assert.Equal(t, "Lisbon", stored[1].Content)
		assert.NotEqual(t, "m0", stored[0].ID)
		assert.NotEqual(t, "m1", stored[1].ID)
		assert.Equal(t, branch.Messages, stored)

		// The source slice must not be touched.
		assert.Equal(t, "m0", messages[0].ID)
	})

	t.Run("Failure - Message not in chat", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		mocks.chats.On("GetChat", ctx, "src").Return(source, nil).Once()
		mocks.chats.On("ListMessages", ctx, "src").Return(messages, nil).Once()

		_, err := chatService.BranchChat(ctx, "src", "other")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})
}

func TestChatService_ImportChat(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Success - Fresh ids, same content", func(t *testing.T) {
		chatService, mocks := setupChatService(t)
		original := &model.FullChat{
			Chat: model.Chat{ID: "exported", Title: "Old chat", CreatedAt: ts},
			Messages: []model.Message{
				{ID: "x1", Role: model.RoleUser, Content: "ping", Timestamp: ts},
				{ID: "x2", Role: model.RoleAssistant, Content: "pong", Model: strPtr("llama3"), Timestamp: ts.Add(time.Second)},
			},
		}
		data, err := export.NewJSONExporter().Export(original)
		require.NoError(t, err)

		mocks.chats.On("InsertChatWithMessages", ctx, mock.MatchedBy(func(c *model.Chat) bool {
			return c.ID != "exported" && c.Title == "Old chat" && c.CreatedAt.Equal(ts)
		}), mock.MatchedBy(func(m []model.Message) bool {
			return len(m) == 2 && m[0].ID != "x1" && m[0].Content == "ping" && m[1].Content == "pong"
		})).Return(nil).Once()

		imported, err := chatService.ImportChat(ctx, data)
		require.NoError(t, err)
		require.Len(t, imported.Messages, 2)
		assert.Equal(t, "llama3", *imported.Messages[1].Model)
		assert.True(t, imported.Messages[1].Timestamp.Equal(ts.Add(time.Second)))
	})

	t.Run("Failure - Unsupported role", func(t *testing.T) {
		chatService, _ := setupChatService(t)
		_, err := chatService.ImportChat(ctx, []byte(`{"title":"x","messages":[{"role":"tool","content":"?"}]}`))
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	})

	t.Run("Failure - Invalid JSON", func(t *testing.T) {
		chatService, _ := setupChatService(t)
		_, err := chatService.ImportChat(ctx, []byte("{"))
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	})
}

func TestChatService_DeleteChat(t *testing.T) {
	ctx := context.Background()
	chatService, mocks := setupChatService(t)
	mocks.chats.On("DeleteChat", ctx, "chat1").Return(nil).Once()
	mocks.chats.On("DeleteChat", ctx, "chat1").Return(repository.ErrNotFound).Once()

	assert.NoError(t, chatService.DeleteChat(ctx, "chat1"))
	assert.ErrorIs(t, chatService.DeleteChat(ctx, "chat1"), app_errors.ErrNotFound)
}
