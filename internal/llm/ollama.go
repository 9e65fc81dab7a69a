package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type ollamaProvider struct {
	url    string
	t      *transport
	reader *Reader
}

// NewOllamaProvider creates a client for an Ollama server at url.
func NewOllamaProvider(url string, opts ...Option) Provider {
	o := buildOptions(opts)
	return &ollamaProvider{
		url: strings.TrimRight(url, "/"),
		t:   newTransport(Ollama, o, nil),
		// Ollama ends streams with done:true, never a sentinel.
		reader: NewReader(FramingNDJSON, extractOllamaChunk, WithSentinel(""), WithReaderLogger(o.log.With(zapProvider(Ollama)))),
	}
}

func (p *ollamaProvider) Name() ProviderName { return Ollama }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaStreamChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func extractOllamaChunk(fragment []byte) (Delta, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(fragment, &chunk); err != nil {
		return Delta{}, err
	}
	if chunk.Error != "" {
		return Delta{}, &UpstreamError{Provider: Ollama, Message: chunk.Error}
	}
	return Delta{Content: chunk.Message.Content, Done: chunk.Done}, nil
}

func (p *ollamaProvider) ChatStream(ctx context.Context, req *ChatRequest, ch chan<- StreamResponse) error {
	body := ollamaChatRequest{Model: req.Model, Messages: req.Messages, Stream: true}
	if req.Temperature != nil {
		body.Options = map[string]any{"temperature": *req.Temperature}
	}
	return runStream(ctx, ch, func(emit EmitFunc) error {
		return p.t.stream(ctx, p.url+"/api/chat", body, p.reader, emit)
	})
}

type ollamaTagList struct {
	Models []struct {
		Name    string `json:"name"`
		Model   string `json:"model"`
		Details struct {
			Family        string `json:"family"`
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

func (p *ollamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var tags ollamaTagList
	if err := p.t.getJSON(ctx, p.url+"/api/tags", &tags); err != nil {
		return nil, fmt.Errorf("could not list ollama models: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		models = append(models, ModelInfo{ID: id, Name: m.Name, Provider: Ollama})
	}
	return models, nil
}
