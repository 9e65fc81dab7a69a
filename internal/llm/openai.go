package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// openAIProvider speaks the OpenAI chat-completions dialect shared by
// OpenRouter, Groq and LM Studio.
type openAIProvider struct {
	name    ProviderName
	baseURL string
	t       *transport
	reader  *Reader
}

// NewOpenRouterProvider creates a client for OpenRouter. baseURL is the API
// root, e.g. https://openrouter.ai/api/v1.
func NewOpenRouterProvider(baseURL, apiKey string, opts ...Option) Provider {
	return newOpenAIProvider(OpenRouter, baseURL, apiKey, map[string]string{
		"HTTP-Referer": "https://github.com/polychat",
		"X-Title":      "Polychat",
	}, opts)
}

// NewGroqProvider creates a client for Groq's OpenAI-compatible endpoint.
func NewGroqProvider(baseURL, apiKey string, opts ...Option) Provider {
	return newOpenAIProvider(Groq, baseURL, apiKey, nil, opts)
}

// NewLMStudioProvider creates a client for a local LM Studio server. baseURL
// is the server root; the /v1 prefix is added here.
func NewLMStudioProvider(baseURL string, opts ...Option) Provider {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return newOpenAIProvider(LMStudio, base, "", nil, opts)
}

func newOpenAIProvider(name ProviderName, baseURL, apiKey string, extra map[string]string, opts []Option) *openAIProvider {
	o := buildOptions(opts)
	headers := map[string]string{"Accept": "text/event-stream"}
	for k, v := range extra {
		headers[k] = v
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &openAIProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(name, o, headers),
		reader:  NewReader(FramingSSE, openAIExtractor(name), WithReaderLogger(o.log.With(zapProvider(name)))),
	}
}

func (p *openAIProvider) Name() ProviderName { return p.name }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

func openAIExtractor(name ProviderName) ExtractFunc {
	return func(fragment []byte) (Delta, error) {
		var chunk openAIStreamChunk
		if err := json.Unmarshal(fragment, &chunk); err != nil {
			return Delta{}, err
		}
		if msg := rawErrorMessage(chunk.Error); msg != "" {
			return Delta{}, &UpstreamError{Provider: name, Message: msg}
		}
		if len(chunk.Choices) == 0 {
			return Delta{}, nil
		}
		choice := chunk.Choices[0]
		return Delta{
			Content: choice.Delta.Content,
			Done:    choice.FinishReason != nil && *choice.FinishReason != "",
		}, nil
	}
}

func (p *openAIProvider) ChatStream(ctx context.Context, req *ChatRequest, ch chan<- StreamResponse) error {
	body := openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
	}
	return runStream(ctx, ch, func(emit EmitFunc) error {
		return p.t.stream(ctx, p.baseURL+"/chat/completions", body, p.reader, emit)
	})
}

type openAIModelList struct {
	Data []struct {
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		ContextLength int      `json:"context_length"`
		ContextWindow int      `json:"context_window"`
		Pricing       *Pricing `json:"pricing"`
	} `json:"data"`
}

func (p *openAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var list openAIModelList
	if err := p.t.getJSON(ctx, p.baseURL+"/models", &list); err != nil {
		return nil, fmt.Errorf("could not list %s models: %w", p.name, err)
	}

	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		info := ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      p.name,
			ContextLength: m.ContextLength,
			Pricing:       m.Pricing,
		}
		if info.Name == "" {
			info.Name = m.ID
		}
		if info.ContextLength == 0 {
			info.ContextLength = m.ContextWindow
		}
		models = append(models, info)
	}
	return models, nil
}
