package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	app_errors "polychat/internal/errors"
)

// ProviderName identifies one of the supported inference backends.
type ProviderName string

const (
	OpenRouter ProviderName = "openrouter"
	Ollama     ProviderName = "ollama"
	LMStudio   ProviderName = "lmstudio"
	Groq       ProviderName = "groq"
	Gemini     ProviderName = "gemini"
)

// AllProviders lists every supported provider in display order.
func AllProviders() []ProviderName {
	return []ProviderName{OpenRouter, Ollama, LMStudio, Groq, Gemini}
}

// ParseProviderName validates s as a provider name.
func ParseProviderName(s string) (ProviderName, error) {
	name := ProviderName(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range AllProviders() {
		if p == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown provider '%s'", app_errors.ErrValidation, s)
}

// RequiresAPIKey reports whether requests to the provider need a key.
func (p ProviderName) RequiresAPIKey() bool {
	switch p {
	case OpenRouter, Groq, Gemini:
		return true
	default:
		return false
	}
}

// StreamResponse is a LOCAL type for the llm package.
type StreamResponse struct {
	Content string
	Done    bool
	Error   string
}

// Provider defines the interface for interacting with a language model backend.
type Provider interface {
	Name() ProviderName
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// ChatStream sends deltas to ch and always closes it. On success the last
	// chunk has Done set; on failure the last chunk carries Error and the
	// same error is returned.
	ChatStream(ctx context.Context, req *ChatRequest, ch chan<- StreamResponse) error
}

// Resolver hands out a ready-to-use Provider for a name.
type Resolver interface {
	Provider(name ProviderName) (Provider, error)
}

// Directory is a Resolver that can also report how each provider is configured.
type Directory interface {
	Resolver
	Status() []ProviderStatus
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// Pricing holds per-token prices as the provider reports them (decimal strings).
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelInfo describes a model a provider can serve.
type ModelInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Provider      ProviderName `json:"provider"`
	ContextLength int          `json:"context_length,omitempty"`
	Pricing       *Pricing     `json:"pricing,omitempty"`
}

// IsFree reports whether the model costs nothing to use: either its id
// carries the ":free" variant suffix or both listed prices are zero.
func (m ModelInfo) IsFree() bool {
	if strings.HasSuffix(m.ID, ":free") {
		return true
	}
	if m.Pricing == nil {
		return false
	}
	return isZeroPrice(m.Pricing.Prompt) && isZeroPrice(m.Pricing.Completion)
}

func isZeroPrice(s string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && v == 0
}

// FilterFree returns the free models in their original order.
func FilterFree(models []ModelInfo) []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if m.IsFree() {
			out = append(out, m)
		}
	}
	return out
}

// Collect runs a stream to completion and returns the full text.
func Collect(ctx context.Context, p Provider, req *ChatRequest) (string, error) {
	ch := make(chan StreamResponse)
	go func() { _ = p.ChatStream(ctx, req, ch) }()

	var sb strings.Builder
	var streamErr error
	for chunk := range ch {
		if chunk.Error != "" {
			streamErr = fmt.Errorf("%w: %s", app_errors.ErrProviderUnavailable, chunk.Error)
			continue
		}
		sb.WriteString(chunk.Content)
	}
	if streamErr != nil {
		return sb.String(), streamErr
	}
	if err := ctx.Err(); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

// runStream adapts a Reader-driven request to the ChatStream channel contract.
func runStream(ctx context.Context, ch chan<- StreamResponse, fn func(emit EmitFunc) error) error {
	defer close(ch)

	err := fn(func(d Delta) error {
		return send(ctx, ch, StreamResponse{Content: d.Content})
	})
	if err != nil {
		if ctx.Err() == nil {
			_ = send(ctx, ch, StreamResponse{Error: err.Error()})
		}
		return err
	}
	return send(ctx, ch, StreamResponse{Done: true})
}

func send(ctx context.Context, ch chan<- StreamResponse, resp StreamResponse) error {
	select {
	case ch <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
