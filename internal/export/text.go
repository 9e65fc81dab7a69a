package export

import (
	"fmt"
	"strings"
	"time"

	"polychat/internal/model"
)

const textTimeLayout = "2006-01-02 15:04:05"

// TextExporter renders a chat as a plain-text transcript.
type TextExporter struct{}

func NewTextExporter() *TextExporter { return &TextExporter{} }

func (e *TextExporter) Export(chat *model.FullChat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", chat.Title)
	fmt.Fprintf(&b, "Created: %s\n", chat.CreatedAt.UTC().Format(time.RFC3339))
	if chat.Model != "" {
		fmt.Fprintf(&b, "Model: %s (%s)\n", chat.Model, chat.Provider)
	}
	if o := chat.BranchOrigin; o != nil {
		fmt.Fprintf(&b, "Branched from: %s at message %s\n", o.SourceChatID, o.SourceMessageID)
	}
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n")

	for _, m := range chat.Messages {
		b.WriteString("\n[")
		b.WriteString(roleLabel(m.Role))
		b.WriteString("]")
		if m.Model != nil && *m.Model != "" {
			fmt.Fprintf(&b, " (%s)", *m.Model)
		}
		fmt.Fprintf(&b, " %s\n", m.Timestamp.UTC().Format(textTimeLayout))
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

func (e *TextExporter) FileExtension() string { return ".txt" }

func (e *TextExporter) MimeType() string { return "text/plain; charset=utf-8" }
