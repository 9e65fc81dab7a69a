package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	app_errors "polychat/internal/errors"
	"polychat/internal/export"
	"polychat/internal/interfaces"
	"polychat/internal/model"
	"polychat/internal/service"
)

// maxImportSize bounds the body of an import request.
const maxImportSize = 10 << 20

// ChatHandler serves chats, messages and settings.
type ChatHandler struct {
	chats    interfaces.ChatService
	settings interfaces.SettingsService
}

func NewChatHandler(chats interfaces.ChatService, settings interfaces.SettingsService) *ChatHandler {
	return &ChatHandler{chats: chats, settings: settings}
}

// GetSettings godoc
// @Summary      Get settings
// @Description  Returns the current settings. API keys are masked.
// @Tags         Settings
// @Produce      json
// @Success      200  {object}  service.Settings
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/settings [get]
func (h *ChatHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings.Masked())
}

// UpdateSettings godoc
// @Summary      Update settings
// @Description  Saves every setting. A masked API key sent back unchanged keeps the stored key.
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        settings  body      service.Settings  true  "Settings"
// @Success      200       {object}  StatusResponse
// @Failure      400       {object}  ErrorResponse
// @Router       /v1/settings [post]
func (h *ChatHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings service.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&settings); err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.settings.Save(r.Context(), &settings); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// GetSettingValue godoc
// @Summary      Get a setting
// @Tags         Settings
// @Produce      json
// @Param        key  path      string  true  "Setting key"
// @Success      200  {object}  SettingValue
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/settings/values/{key} [get]
func (h *ChatHandler) GetSettingValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.settings.GetValue(r.Context(), key)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if service.IsSecretKey(key) {
		value = service.MaskSecret(value)
	}
	respondWithJSON(w, http.StatusOK, SettingValue{Key: key, Value: value})
}

// PutSettingValue godoc
// @Summary      Set a setting
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        key    path      string           true  "Setting key"
// @Param        value  body      SetValueRequest  true  "Value"
// @Success      200    {object}  StatusResponse
// @Failure      400    {object}  ErrorResponse
// @Router       /v1/settings/values/{key} [put]
func (h *ChatHandler) PutSettingValue(w http.ResponseWriter, r *http.Request) {
	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := h.settings.SetValue(r.Context(), chi.URLParam(r, "key"), req.Value); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// DeleteSettingValue godoc
// @Summary      Delete a setting
// @Tags         Settings
// @Produce      json
// @Param        key  path      string  true  "Setting key"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/settings/values/{key} [delete]
func (h *ChatHandler) DeleteSettingValue(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.DeleteValue(r.Context(), chi.URLParam(r, "key")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// GetChats godoc
// @Summary      List chats
// @Description  Returns every chat, most recently used first.
// @Tags         Chats
// @Produce      json
// @Success      200  {array}   model.Chat
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/chats [get]
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	if chats == nil {
		chats = []*model.Chat{}
	}
	respondWithJSON(w, http.StatusOK, chats)
}

// ResumeChat godoc
// @Summary      Resume the last chat
// @Description  Returns the most recently used chat, creating an empty one when none can be loaded.
// @Tags         Chats
// @Produce      json
// @Success      200  {object}  model.FullChat
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/chats/resume [post]
func (h *ChatHandler) ResumeChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chats.Resume(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, chat)
}

// GetChat godoc
// @Summary      Get a chat
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  model.FullChat
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID} [get]
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	fullChat, err := h.chats.GetFullChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, fullChat)
}

// UpdateChatTitle godoc
// @Summary      Rename a chat
// @Tags         Chats
// @Accept       json
// @Produce      json
// @Param        chatID  path      string              true  "Chat ID"
// @Param        title   body      UpdateTitleRequest  true  "New title"
// @Success      200     {object}  StatusResponse
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/title [put]
func (h *ChatHandler) UpdateChatTitle(w http.ResponseWriter, r *http.Request) {
	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.chats.RenameChat(r.Context(), chi.URLParam(r, "chatID"), req.Title); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleDeleteChat godoc
// @Summary      Delete a chat
// @Tags         Chats
// @Produce      json
// @Param        chatID  path      string  true  "Chat ID"
// @Success      200     {object}  StatusResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID} [delete]
func (h *ChatHandler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleBranchChat godoc
// @Summary      Branch a chat
// @Description  Copies a chat up to and including a message into a new chat.
// @Tags         Chats
// @Accept       json
// @Produce      json
// @Param        chatID  path      string         true  "Chat ID"
// @Param        branch  body      BranchRequest  true  "Branch point"
// @Success      201     {object}  model.FullChat
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/branch [post]
func (h *ChatHandler) HandleBranchChat(w http.ResponseWriter, r *http.Request) {
	var req BranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}
	branch, err := h.chats.BranchChat(r.Context(), chi.URLParam(r, "chatID"), req.MessageID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, branch)
}

// HandleExportChat godoc
// @Summary      Export a chat
// @Description  Downloads a chat as plain text, JSON or a printable HTML page.
// @Tags         Chats
// @Produce      plain,json,html
// @Param        chatID  path   string  true   "Chat ID"
// @Param        format  query  string  false  "txt, json or html"  default(txt)
// @Success      200
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/chats/{chatID}/export [get]
func (h *ChatHandler) HandleExportChat(w http.ResponseWriter, r *http.Request) {
	exporter, err := export.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	chat, err := h.chats.GetFullChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	data, err := exporter.Export(chat)
	if err != nil {
		respondWithError(w, err)
		return
	}

	filename := export.Filename(chat, exporter.FileExtension(), time.Now())
	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		zap.L().Warn("Failed to write export", zap.String("chat_id", chat.ID), zap.Error(err))
	}
}

// HandleImportChat godoc
// @Summary      Import a chat
// @Description  Creates a new chat from a JSON export. Every id is regenerated.
// @Tags         Chats
// @Accept       json
// @Produce      json
// @Success      201  {object}  model.FullChat
// @Failure      400  {object}  ErrorResponse
// @Router       /v1/chats/import [post]
func (h *ChatHandler) HandleImportChat(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		respondWithError(w, fmt.Errorf("%w: could not read import: %v", app_errors.ErrValidation, err))
		return
	}
	chat, err := h.chats.ImportChat(r.Context(), data)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, chat)
}

// HandleStreamMessage godoc
// @Summary      Send a message
// @Description  Stores a user message and streams the assistant reply. An empty chat_id starts a new chat.
// @Tags         Messages
// @Accept       json
// @Produce      text/event-stream
// @Param        message  body      service.CreateMessageRequest  true  "Message"
// @Success      200      {object}  model.StreamResponse  "Stream of reply chunks"
// @Failure      400      {object}  ErrorResponse         "Sent as a stream error event"
// @Router       /v1/chats/messages [post]
func (h *ChatHandler) HandleStreamMessage(w http.ResponseWriter, r *http.Request) {
	setStreamHeaders(w)

	var req service.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		zap.L().Error("Error decoding request body", zap.Error(err))
		sendStreamError(w, "Invalid request body")
		return
	}
	if err := validateRequest(&req); err != nil {
		sendStreamError(w, err.Error())
		return
	}

	streamChan := make(chan model.StreamResponse)
	go h.chats.SendMessage(r.Context(), &req, streamChan)
	pipeStream(w, r, streamChan, isChunkError)
}

// HandleEditMessage godoc
// @Summary      Edit a message
// @Description  Replaces a user message, drops every later message and streams a new reply.
// @Tags         Messages
// @Accept       json
// @Produce      text/event-stream
// @Param        chatID     path      string                      true  "Chat ID"
// @Param        messageID  path      string                      true  "User message ID"
// @Param        message    body      service.EditMessageRequest  true  "New content"
// @Success      200        {object}  model.StreamResponse  "Stream of reply chunks"
// @Router       /v1/chats/{chatID}/messages/{messageID}/edit [post]
func (h *ChatHandler) HandleEditMessage(w http.ResponseWriter, r *http.Request) {
	setStreamHeaders(w)

	var req service.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendStreamError(w, "Invalid request body")
		return
	}
	if err := validateRequest(&req); err != nil {
		sendStreamError(w, err.Error())
		return
	}

	streamChan := make(chan model.StreamResponse)
	go h.chats.EditMessage(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), &req, streamChan)
	pipeStream(w, r, streamChan, isChunkError)
}

// HandleRegenerateMessage godoc
// @Summary      Regenerate a reply
// @Description  Replaces an assistant message with a new reply, optionally from another provider or model.
// @Tags         Messages
// @Accept       json
// @Produce      text/event-stream
// @Param        chatID     path      string                            true   "Chat ID"
// @Param        messageID  path      string                            true   "Assistant message ID"
// @Param        options    body      service.RegenerateMessageRequest  false  "Overrides"
// @Success      200        {object}  model.StreamResponse  "Stream of reply chunks"
// @Router       /v1/chats/{chatID}/messages/{messageID}/regenerate [post]
func (h *ChatHandler) HandleRegenerateMessage(w http.ResponseWriter, r *http.Request) {
	setStreamHeaders(w)

	var req service.RegenerateMessageRequest
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		sendStreamError(w, "Invalid request body")
		return
	}
	if err := validateRequest(&req); err != nil {
		sendStreamError(w, err.Error())
		return
	}

	streamChan := make(chan model.StreamResponse)
	go h.chats.RegenerateMessage(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), &req, streamChan)
	pipeStream(w, r, streamChan, isChunkError)
}

func isChunkError(c model.StreamResponse) bool { return c.Error != "" }
