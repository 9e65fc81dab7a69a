// Package export renders chats as downloadable files and reads JSON
// exports back in.
package export

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	app_errors "polychat/internal/errors"
	"polychat/internal/model"
)

// Exporter converts a chat to one file format.
type Exporter interface {
	// Export converts a chat to the target format and returns the content.
	Export(chat *model.FullChat) ([]byte, error)

	// FileExtension returns the file extension including the dot, e.g. ".txt".
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Formats lists the names accepted by ForFormat.
var Formats = []string{"txt", "json", "html"}

// ForFormat returns the exporter for name (txt, json or html).
func ForFormat(name string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "txt", "text":
		return NewTextExporter(), nil
	case "json":
		return NewJSONExporter(), nil
	case "html":
		return NewHTMLExporter(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported export format '%s' (want one of %s)", app_errors.ErrValidation, name, strings.Join(Formats, ", "))
	}
}

// Filename builds a download name from the chat title and the time of export.
func Filename(chat *model.FullChat, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s%s", sanitizeFilename(chat.Title), now.UTC().Format("20060102_150405"), ext)
}

const maxFilenameRunes = 50

// sanitizeFilename replaces characters that are unsafe in file names and
// in a Content-Disposition header.
func sanitizeFilename(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxFilenameRunes {
		runes = runes[:maxFilenameRunes]
	}

	var b strings.Builder
	for _, r := range runes {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|;`, r), r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "chat"
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return role
	}
}
