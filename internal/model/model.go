package model

import (
	"time"
)

// Message roles. System messages only appear in outbound prompts and are
// never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// BranchOrigin records where a branched chat was copied from. It is an
// informational back-reference only: the source chat may be deleted.
type BranchOrigin struct {
	SourceChatID    string    `json:"source_chat_id"`
	SourceMessageID string    `json:"source_message_id"`
	BranchedAt      time.Time `json:"branched_at"`
}

// Chat stores metadata about a conversation.
type Chat struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	BranchOrigin *BranchOrigin `json:"branch_origin,omitempty"`
}

// Message stores a single message in a chat.
type Message struct {
	ID        string    `json:"id"`
	Position  int       `json:"position"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Provider  *string   `json:"provider,omitempty"`
	Model     *string   `json:"model,omitempty"` // Model that produced this message.
	Timestamp time.Time `json:"timestamp"`
}

// FullChat includes the chat metadata and all its messages.
type FullChat struct {
	Chat
	Messages []Message `json:"messages"`
}

// StreamResponse is the structure for a single chunk in a streaming response.
type StreamResponse struct {
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CompareTarget names one provider/model pair in a comparison.
type CompareTarget struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
}

// CompareResult is the outcome of a single target in a comparison.
type CompareResult struct {
	Index      int       `json:"index"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Content    string    `json:"content"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Comparison is one prompt answered by several models side by side.
type Comparison struct {
	ID        string          `json:"id"`
	Prompt    string          `json:"prompt"`
	CreatedAt time.Time       `json:"created_at"`
	Results   []CompareResult `json:"results"`
}

// CompareEvent is a single event on a comparison stream. Per-target events
// carry Index; the final event has Complete set and the persisted ID.
type CompareEvent struct {
	Index        int    `json:"index"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Content      string `json:"content,omitempty"`
	Done         bool   `json:"done,omitempty"`
	Error        string `json:"error,omitempty"`
	Complete     bool   `json:"complete,omitempty"`
	ComparisonID string `json:"comparison_id,omitempty"`
}
