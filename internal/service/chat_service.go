package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	app_errors "polychat/internal/errors"
	"polychat/internal/export"
	"polychat/internal/llm"
	"polychat/internal/model"
	"polychat/internal/repository"
)

const (
	newChatTitleLength = 50
	maxTitleLength     = 100
	defaultChatTitle   = "New chat"
	titleTimeout       = 30 * time.Second
)

// GenerationOptions selects the backend for one reply. Empty fields fall
// back to the selected settings.
type GenerationOptions struct {
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// CreateMessageRequest is a new user message. An empty ChatID starts a new chat.
type CreateMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content" validate:"required"`
	GenerationOptions
}

// EditMessageRequest replaces a user message and everything after it.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
	GenerationOptions
}

// RegenerateMessageRequest asks for a new reply in place of an assistant message.
type RegenerateMessageRequest struct {
	GenerationOptions
}

type ChatService struct {
	repo     repository.ChatRepository
	llm      llm.Resolver
	settings *SettingsService
	log      *zap.Logger

	// background tracks title generation started after a reply.
	background sync.WaitGroup
}

func NewChatService(repo repository.ChatRepository, resolver llm.Resolver, settings *SettingsService, log *zap.Logger) *ChatService {
	if log == nil {
		log = zap.L()
	}
	return &ChatService{repo: repo, llm: resolver, settings: settings, log: log}
}

// Wait blocks until background work started by the service has finished.
func (s *ChatService) Wait() {
	s.background.Wait()
}

func mapRepoError(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", app_errors.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ListChats returns every chat, most recently used first.
func (s *ChatService) ListChats(ctx context.Context) ([]*model.Chat, error) {
	return s.repo.ListChats(ctx)
}

// GetFullChat retrieves a chat's metadata and all its messages.
func (s *ChatService) GetFullChat(ctx context.Context, chatID string) (*model.FullChat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err, "chat '%s'", chatID)
	}
	messages, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("could not get messages: %w", err)
	}
	return &model.FullChat{Chat: *chat, Messages: messages}, nil
}

// RenameChat sets a chat's title.
func (s *ChatService) RenameChat(ctx context.Context, chatID, newTitle string) error {
	newTitle = strings.TrimSpace(newTitle)
	if n := len([]rune(newTitle)); n == 0 || n > maxTitleLength {
		return fmt.Errorf("%w: title must be between 1 and %d characters", app_errors.ErrValidation, maxTitleLength)
	}
	s.log.Info("Renaming chat", zap.String("chat_id", chatID))
	if err := s.repo.UpdateChatTitle(ctx, chatID, newTitle); err != nil {
		return mapRepoError(err, "chat '%s'", chatID)
	}
	return nil
}

// DeleteChat removes a chat and its messages. Branches copied from it stay.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	s.log.Info("Deleting chat", zap.String("chat_id", chatID))
	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		return mapRepoError(err, "chat '%s'", chatID)
	}
	return nil
}

// Resume returns the most recently used chat. When there is none, or it
// cannot be loaded, a fresh empty chat is created instead.
func (s *ChatService) Resume(ctx context.Context) (*model.FullChat, error) {
	chats, err := s.repo.ListChats(ctx)
	switch {
	case err != nil:
		s.log.Warn("Could not load chats, starting a fresh one", zap.Error(err))
	case len(chats) > 0:
		full, err := s.GetFullChat(ctx, chats[0].ID)
		if err == nil {
			return full, nil
		}
		s.log.Warn("Could not load last chat, starting a fresh one", zap.String("chat_id", chats[0].ID), zap.Error(err))
	}

	chat := s.newChat(ctx, defaultChatTitle)
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("could not create chat: %w", err)
	}
	return &model.FullChat{Chat: *chat, Messages: []model.Message{}}, nil
}

func (s *ChatService) newChat(ctx context.Context, title string) *model.Chat {
	now := time.Now().UTC()
	chat := &model.Chat{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	if settings, err := s.settings.Get(ctx); err == nil {
		chat.Provider = settings.SelectedProvider
		chat.Model = settings.SelectedModel
	}
	return chat
}

// SendMessage stores a user message, streams the reply into streamChan and
// stores it too. streamChan is always closed.
func (s *ChatService) SendMessage(ctx context.Context, req *CreateMessageRequest, streamChan chan<- model.StreamResponse) {
	defer close(streamChan)

	content := strings.TrimSpace(req.Content)
	if content == "" {
		sendChunk(ctx, streamChan, model.StreamResponse{Error: "message content cannot be empty"})
		return
	}
	settings := s.currentSettings(ctx)

	var chat *model.Chat
	isNewChat := req.ChatID == ""
	if isNewChat {
		chat = s.newChat(ctx, truncate(content, newChatTitleLength))
	} else {
		var err error
		chat, err = s.repo.GetChat(ctx, req.ChatID)
		if err != nil {
			s.log.Error("Error getting chat", zap.String("chat_id", req.ChatID), zap.Error(err))
			sendChunk(ctx, streamChan, model.StreamResponse{ChatID: req.ChatID, Error: "Could not find chat"})
			return
		}
	}

	t, err := pickTarget(req.GenerationOptions,
		target{llm.ProviderName(settings.SelectedProvider), settings.SelectedModel},
		target{llm.ProviderName(chat.Provider), chat.Model},
	)
	if err != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chat.ID, Error: err.Error()})
		return
	}

	if isNewChat {
		chat.Provider, chat.Model = string(t.provider), t.model
		if err := s.repo.CreateChat(ctx, chat); err != nil {
			s.log.Error("Error creating chat", zap.Error(err))
			sendChunk(ctx, streamChan, model.StreamResponse{Error: "Could not create chat"})
			return
		}
	}

	userMessage := &model.Message{ID: uuid.NewString(), Role: model.RoleUser, Content: content, Timestamp: time.Now().UTC()}
	if err := s.repo.AppendMessage(ctx, chat.ID, userMessage); err != nil {
		s.log.Error("Error adding user message", zap.String("chat_id", chat.ID), zap.Error(err))
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chat.ID, Error: "Could not save message"})
		return
	}

	reply := s.streamReply(ctx, chat.ID, t, req.GenerationOptions, settings, streamChan)
	if isNewChat && settings.AutoTitle && reply.ok {
		s.generateTitleAsync(chat.ID, t, content, reply.content)
	}
}

// EditMessage replaces a user message, drops everything after it and
// streams a new reply.
func (s *ChatService) EditMessage(ctx context.Context, chatID, messageID string, req *EditMessageRequest, streamChan chan<- model.StreamResponse) {
	defer close(streamChan)

	content := strings.TrimSpace(req.Content)
	if content == "" {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "message content cannot be empty"})
		return
	}

	chat, original, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: err.Error()})
		return
	}
	if original.Role != model.RoleUser {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "only user messages can be edited"})
		return
	}

	settings := s.currentSettings(ctx)
	t, err := pickTarget(req.GenerationOptions,
		target{llm.ProviderName(settings.SelectedProvider), settings.SelectedModel},
		target{llm.ProviderName(chat.Provider), chat.Model},
	)
	if err != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: err.Error()})
		return
	}

	edited := &model.Message{ID: uuid.NewString(), Role: model.RoleUser, Content: content, Timestamp: time.Now().UTC()}
	if err := s.repo.ReplaceFrom(ctx, chatID, original.Position, edited); err != nil {
		s.log.Error("Error replacing edited message", zap.String("chat_id", chatID), zap.Error(err))
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "Could not edit message"})
		return
	}

	s.streamReply(ctx, chatID, t, req.GenerationOptions, settings, streamChan)
}

// RegenerateMessage replaces an assistant message with a fresh reply to
// the history before it.
func (s *ChatService) RegenerateMessage(ctx context.Context, chatID, messageID string, req *RegenerateMessageRequest, streamChan chan<- model.StreamResponse) {
	defer close(streamChan)

	chat, original, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: err.Error()})
		return
	}
	if original.Role != model.RoleAssistant {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "only assistant messages can be regenerated"})
		return
	}

	settings := s.currentSettings(ctx)
	t, err := pickTarget(req.GenerationOptions,
		target{llm.ProviderName(deref(original.Provider)), deref(original.Model)},
		target{llm.ProviderName(chat.Provider), chat.Model},
		target{llm.ProviderName(settings.SelectedProvider), settings.SelectedModel},
	)
	if err != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: err.Error()})
		return
	}

	if err := s.repo.TruncateFrom(ctx, chatID, original.Position); err != nil {
		s.log.Error("Error truncating chat", zap.String("chat_id", chatID), zap.Error(err))
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "Could not regenerate message"})
		return
	}

	s.streamReply(ctx, chatID, t, req.GenerationOptions, settings, streamChan)
}

func (s *ChatService) loadMessage(ctx context.Context, chatID, messageID string) (*model.Chat, *model.Message, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, mapRepoError(err, "chat '%s'", chatID)
	}
	msg, err := s.repo.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, nil, mapRepoError(err, "message '%s'", messageID)
	}
	return chat, msg, nil
}

func (s *ChatService) currentSettings(ctx context.Context) *Settings {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.log.Warn("Could not load settings, using request values only", zap.Error(err))
		return &Settings{}
	}
	return settings
}

type replyResult struct {
	content string
	ok      bool
}

// streamReply sends the chat's history to the provider, forwards every
// delta and stores the assistant message. The final chunk is either Done
// or an Error; both carry the stored message id.
func (s *ChatService) streamReply(
	ctx context.Context,
	chatID string,
	t target,
	opts GenerationOptions,
	settings *Settings,
	streamChan chan<- model.StreamResponse,
) replyResult {
	history, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		s.log.Error("Error getting message history", zap.String("chat_id", chatID), zap.Error(err))
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "Could not load chat history"})
		return replyResult{}
	}

	systemPrompt := settings.SystemPrompt
	if opts.SystemPrompt != nil {
		systemPrompt = *opts.SystemPrompt
	}
	messages := make([]llm.Message, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, llm.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	var full strings.Builder
	var streamErr error

	provider, err := s.llm.Provider(t.provider)
	if err != nil {
		streamErr = err
	} else {
		llmStreamChan := make(chan llm.StreamResponse)
		go func() {
			_ = provider.ChatStream(ctx, &llm.ChatRequest{Model: t.model, Messages: messages, Temperature: opts.Temperature}, llmStreamChan)
		}()

		for chunk := range llmStreamChan {
			if chunk.Error != "" {
				streamErr = errors.New(chunk.Error)
				continue
			}
			if chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			sendChunk(ctx, streamChan, model.StreamResponse{Content: chunk.Content, ChatID: chatID})
		}
	}

	// The reply is stored even when the client has gone away.
	saveCtx := context.WithoutCancel(ctx)
	if streamErr == nil && ctx.Err() != nil {
		if full.Len() == 0 {
			s.log.Info("Stream cancelled before any content", zap.String("chat_id", chatID))
			return replyResult{}
		}
		s.log.Info("Stream cancelled, keeping partial reply", zap.String("chat_id", chatID), zap.Int("bytes", full.Len()))
	}

	if streamErr != nil {
		s.log.Warn("Stream error from provider", zap.String("chat_id", chatID), zap.String("provider", string(t.provider)), zap.Error(streamErr))
		if full.Len() == 0 {
			notice := providerNotice(t.provider, streamErr)
			full.WriteString(notice)
			sendChunk(ctx, streamChan, model.StreamResponse{Content: notice, ChatID: chatID})
		}
	}

	providerName, modelName := string(t.provider), t.model
	assistantMessage := &model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleAssistant,
		Content:   full.String(),
		Provider:  &providerName,
		Model:     &modelName,
		Timestamp: time.Now().UTC(),
	}
	if err := s.repo.AppendMessage(saveCtx, chatID, assistantMessage); err != nil {
		s.log.Error("Failed to save assistant message", zap.String("chat_id", chatID), zap.Error(err))
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, Error: "Could not save reply"})
		return replyResult{}
	}
	if err := s.repo.TouchChat(saveCtx, chatID, providerName, modelName); err != nil {
		s.log.Warn("Failed to record last used model", zap.String("chat_id", chatID), zap.Error(err))
	}

	if streamErr != nil {
		sendChunk(ctx, streamChan, model.StreamResponse{ChatID: chatID, MessageID: assistantMessage.ID, Error: streamErr.Error()})
		return replyResult{content: full.String()}
	}
	sendChunk(ctx, streamChan, model.StreamResponse{Done: true, ChatID: chatID, MessageID: assistantMessage.ID})
	return replyResult{content: full.String(), ok: ctx.Err() == nil}
}

// providerNotice is the inline assistant message saved when a provider
// fails before producing any text.
func providerNotice(provider llm.ProviderName, err error) string {
	return fmt.Sprintf("There was an issue finding the endpoint for %s: %v", provider, err)
}

// BranchChat copies a chat up to and including messageID into a new chat.
func (s *ChatService) BranchChat(ctx context.Context, chatID, messageID string) (*model.FullChat, error) {
	source, err := s.GetFullChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	cut := -1
	for i, m := range source.Messages {
		if m.ID == messageID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, fmt.Errorf("%w: message '%s' in chat '%s'", app_errors.ErrNotFound, messageID, chatID)
	}

	now := time.Now().UTC()
	branch := model.Chat{
		ID:        uuid.NewString(),
		Title:     truncate(source.Title+" (branch)", maxTitleLength),
		Provider:  source.Provider,
		Model:     source.Model,
		CreatedAt: now,
		UpdatedAt: now,
		BranchOrigin: &model.BranchOrigin{
			SourceChatID:    chatID,
			SourceMessageID: messageID,
			BranchedAt:      now,
		},
	}
	messages := copyMessages(source.Messages[:cut+1])

	if err := s.repo.InsertChatWithMessages(ctx, &branch, messages); err != nil {
		return nil, fmt.Errorf("could not create branch: %w", err)
	}
	s.log.Info("Branched chat", zap.String("source_chat_id", chatID), zap.String("chat_id", branch.ID), zap.Int("messages", len(messages)))
	return &model.FullChat{Chat: branch, Messages: messages}, nil
}

// ImportChat creates a new chat from a JSON export. Every id is fresh.
func (s *ChatService) ImportChat(ctx context.Context, data []byte) (*model.FullChat, error) {
	imported, err := export.Import(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", app_errors.ErrValidation, err)
	}
	for i, m := range imported.Messages {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			return nil, fmt.Errorf("%w: message %d has unsupported role '%s'", app_errors.ErrValidation, i, m.Role)
		}
	}

	now := time.Now().UTC()
	chat := imported.Chat
	chat.ID = uuid.NewString()
	chat.Title = strings.TrimSpace(chat.Title)
	if chat.Title == "" {
		chat.Title = "Imported chat"
	}
	chat.Title = truncate(chat.Title, maxTitleLength)
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	messages := copyMessages(imported.Messages)
	for i := range messages {
		if messages[i].Timestamp.IsZero() {
			messages[i].Timestamp = now
		}
	}

	if err := s.repo.InsertChatWithMessages(ctx, &chat, messages); err != nil {
		return nil, fmt.Errorf("could not import chat: %w", err)
	}
	s.log.Info("Imported chat", zap.String("chat_id", chat.ID), zap.Int("messages", len(messages)))
	return &model.FullChat{Chat: chat, Messages: messages}, nil
}

// copyMessages clones messages with fresh ids.
func copyMessages(src []model.Message) []model.Message {
	out := make([]model.Message, len(src))
	for i, m := range src {
		m.ID = uuid.NewString()
		m.Position = i
		m.Provider = clonePtr(m.Provider)
		m.Model = clonePtr(m.Model)
		out[i] = m
	}
	return out
}

func (s *ChatService) generateTitleAsync(chatID string, t target, userQuery, assistantResponse string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		s.generateTitle(ctx, chatID, t, userQuery, assistantResponse)
	}()
}

// generateTitle asks the chat's model for a short title. Failures leave
// the truncated first message as the title.
func (s *ChatService) generateTitle(ctx context.Context, chatID string, t target, userQuery, assistantResponse string) {
	provider, err := s.llm.Provider(t.provider)
	if err != nil {
		s.log.Warn("Skipping title generation", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	messages := []llm.Message{
		{
			Role:    model.RoleSystem,
			Content: "You are an expert at creating short, concise titles for conversations. Respond with only the title, and nothing else.",
		},
		{
			Role: model.RoleUser,
			Content: fmt.Sprintf("Based on the following conversation, what would be a good title?\n\n---\nUser: %s\n\nAssistant: %s\n---",
				truncate(userQuery, 150),
				truncate(assistantResponse, 200),
			),
		},
	}
	resp, err := llm.Collect(ctx, provider, &llm.ChatRequest{Model: t.model, Messages: messages})
	if err != nil {
		s.log.Warn("Failed to generate title", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	newTitle := strings.Trim(strings.TrimSpace(resp), `"'`)
	newTitle = truncate(strings.TrimSpace(newTitle), maxTitleLength)
	if newTitle == "" {
		s.log.Info("Generated title was empty, keeping the original", zap.String("chat_id", chatID))
		return
	}
	if err := s.repo.UpdateChatTitle(ctx, chatID, newTitle); err != nil {
		s.log.Warn("Failed to update chat title", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	s.log.Info("Updated chat title", zap.String("chat_id", chatID))
}

// target is a resolved provider/model pair.
type target struct {
	provider llm.ProviderName
	model    string
}

// pickTarget fills provider and model from opts first and then from each
// candidate in order. A candidate's model is only used together with its
// own provider.
func pickTarget(opts GenerationOptions, candidates ...target) (target, error) {
	provider := strings.TrimSpace(opts.Provider)
	modelName := strings.TrimSpace(opts.Model)
	for _, c := range candidates {
		if c.provider == "" {
			continue
		}
		if provider == "" {
			provider = string(c.provider)
		}
		if modelName == "" && strings.EqualFold(string(c.provider), provider) {
			modelName = c.model
		}
	}
	if provider == "" {
		return target{}, fmt.Errorf("%w: no provider selected", app_errors.ErrValidation)
	}
	name, err := llm.ParseProviderName(provider)
	if err != nil {
		return target{}, err
	}
	if modelName == "" {
		return target{}, fmt.Errorf("%w: no model selected for %s", app_errors.ErrValidation, name)
	}
	return target{provider: name, model: modelName}, nil
}

func sendChunk(ctx context.Context, ch chan<- model.StreamResponse, chunk model.StreamResponse) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

// truncate shortens a string to a specified number of runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
