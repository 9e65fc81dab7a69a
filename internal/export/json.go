package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"polychat/internal/model"
)

const (
	// EnvelopeFormat identifies files written by JSONExporter.
	EnvelopeFormat = "polychat.chat"
	// EnvelopeVersion is the current envelope version.
	EnvelopeVersion = 1
)

// Envelope wraps an exported chat with format metadata.
type Envelope struct {
	Format  string          `json:"format"`
	Version int             `json:"version"`
	Chat    *model.FullChat `json:"chat"`
}

// JSONExporter writes the complete chat so it can be imported again.
type JSONExporter struct{}

func NewJSONExporter() *JSONExporter { return &JSONExporter{} }

func (e *JSONExporter) Export(chat *model.FullChat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	return json.MarshalIndent(Envelope{Format: EnvelopeFormat, Version: EnvelopeVersion, Chat: chat}, "", "  ")
}

func (e *JSONExporter) FileExtension() string { return ".json" }

func (e *JSONExporter) MimeType() string { return "application/json" }

// Import reads a JSON export. It accepts the envelope written by
// JSONExporter and also a bare chat object.
func Import(data []byte) (*model.FullChat, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("import data is empty")
	}

	var probe struct {
		Format  *string         `json:"format"`
		Version int             `json:"version"`
		Chat    json.RawMessage `json:"chat"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	raw := data
	if probe.Format != nil {
		if *probe.Format != EnvelopeFormat {
			return nil, fmt.Errorf("unknown export format '%s'", *probe.Format)
		}
		if probe.Version < 1 || probe.Version > EnvelopeVersion {
			return nil, fmt.Errorf("unsupported export version %d", probe.Version)
		}
		if len(probe.Chat) == 0 || string(probe.Chat) == "null" {
			return nil, errors.New("export has no chat")
		}
		raw = probe.Chat
	}

	var chat model.FullChat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("invalid chat: %w", err)
	}
	if chat.Messages == nil {
		chat.Messages = []model.Message{}
	}
	return &chat, nil
}
