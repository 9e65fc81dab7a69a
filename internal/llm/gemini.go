package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"
)

type geminiProvider struct {
	baseURL string
	t       *transport
	reader  *Reader
}

// NewGeminiProvider creates a client for the Gemini API. baseURL is the
// versioned root, e.g. https://generativelanguage.googleapis.com/v1beta.
func NewGeminiProvider(baseURL, apiKey string, opts ...Option) Provider {
	o := buildOptions(opts)
	return &geminiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(Gemini, o, map[string]string{"x-goog-api-key": apiKey}),
		reader:  NewReader(FramingSSE, extractGeminiChunk, WithSentinel(""), WithReaderLogger(o.log.With(zapProvider(Gemini)))),
	}
}

func (p *geminiProvider) Name() ProviderName { return Gemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error json.RawMessage `json:"error"`
}

func extractGeminiChunk(fragment []byte) (Delta, error) {
	var chunk geminiStreamChunk
	if err := json.Unmarshal(fragment, &chunk); err != nil {
		return Delta{}, err
	}
	if msg := rawErrorMessage(chunk.Error); msg != "" {
		return Delta{}, &UpstreamError{Provider: Gemini, Message: msg}
	}
	if len(chunk.Candidates) == 0 {
		return Delta{}, nil
	}
	var sb strings.Builder
	for _, part := range chunk.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return Delta{Content: sb.String(), Done: chunk.Candidates[0].FinishReason != ""}, nil
}

// toGeminiRequest maps chat roles onto Gemini's user/model turns. System
// messages are merged into systemInstruction.
func toGeminiRequest(req *ChatRequest) geminiRequest {
	var out geminiRequest
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}
	if req.Temperature != nil {
		out.GenerationConfig = map[string]any{"temperature": *req.Temperature}
	}
	return out
}

func (p *geminiProvider) ChatStream(ctx context.Context, req *ChatRequest, ch chan<- StreamResponse) error {
	modelID := strings.TrimPrefix(req.Model, "models/")
	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, url.PathEscape(modelID))
	body := toGeminiRequest(req)
	return runStream(ctx, ch, func(emit EmitFunc) error {
		return p.t.stream(ctx, endpoint, body, p.reader, emit)
	})
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		InputTokenLimit            int      `json:"inputTokenLimit"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

// ListModels pages through the model list, keeping models that can chat.
func (p *geminiProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, 0)
	pageToken := ""
	for {
		endpoint := p.baseURL + "/models?pageSize=1000"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var page geminiModelList
		if err := p.t.getJSON(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("could not list gemini models: %w", err)
		}
		for _, m := range page.Models {
			if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
				continue
			}
			name := m.DisplayName
			id := strings.TrimPrefix(m.Name, "models/")
			if name == "" {
				name = id
			}
			models = append(models, ModelInfo{ID: id, Name: name, Provider: Gemini, ContextLength: m.InputTokenLimit})
		}

		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func zapProvider(name ProviderName) zap.Field {
	return zap.String("provider", string(name))
}
