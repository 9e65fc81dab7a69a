package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "polychat/internal/errors"
)

// scriptedProvider replays a fixed set of chunks.
type scriptedProvider struct {
	chunks []StreamResponse
	err    error
}

func (p *scriptedProvider) Name() ProviderName { return Ollama }

func (p *scriptedProvider) ListModels(ctx context.Context) ([]ModelInfo, error) { return nil, nil }

func (p *scriptedProvider) ChatStream(ctx context.Context, req *ChatRequest, ch chan<- StreamResponse) error {
	defer close(ch)
	for _, c := range p.chunks {
		ch <- c
	}
	return p.err
}

// drain collects every chunk until the provider closes the channel.
func drain(ch <-chan StreamResponse) []StreamResponse {
	var out []StreamResponse
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func joinContent(chunks []StreamResponse) string {
	var s string
	for _, c := range chunks {
		s += c.Content
	}
	return s
}

func TestParseProviderName(t *testing.T) {
	testCases := []struct {
		input   string
		want    ProviderName
		wantErr bool
	}{
		{input: "openrouter", want: OpenRouter},
		{input: " Ollama ", want: Ollama},
		{input: "LMSTUDIO", want: LMStudio},
		{input: "groq", want: Groq},
		{input: "gemini", want: Gemini},
		{input: "openai", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseProviderName(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, app_errors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequiresAPIKey(t *testing.T) {
	assert.True(t, OpenRouter.RequiresAPIKey())
	assert.True(t, Groq.RequiresAPIKey())
	assert.True(t, Gemini.RequiresAPIKey())
	assert.False(t, Ollama.RequiresAPIKey())
	assert.False(t, LMStudio.RequiresAPIKey())
}

func TestFilterFree(t *testing.T) {
	models := []ModelInfo{
		{ID: "meta/llama:free"},
		{ID: "openai/gpt-4o", Pricing: &Pricing{Prompt: "0.000005", Completion: "0.000015"}},
		{ID: "mistral/small", Pricing: &Pricing{Prompt: "0", Completion: "0.0"}},
		{ID: "no-pricing"},
		{ID: "half-free", Pricing: &Pricing{Prompt: "0", Completion: "0.01"}},
		{ID: "bad-price", Pricing: &Pricing{Prompt: "n/a", Completion: "0"}},
		{ID: "z/last:free"},
	}

	got := FilterFree(models)

	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"meta/llama:free", "mistral/small", "z/last:free"}, ids)
	assert.Len(t, models, 7, "input must not be modified")
	assert.Empty(t, FilterFree(nil))
}

func TestCollect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		p := &scriptedProvider{chunks: []StreamResponse{{Content: "Hel"}, {Content: "lo"}, {Done: true}}}
		text, err := Collect(context.Background(), p, &ChatRequest{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "Hello", text)
	})

	t.Run("Error chunk", func(t *testing.T) {
		p := &scriptedProvider{
			chunks: []StreamResponse{{Content: "part"}, {Error: "boom"}},
			err:    errors.New("boom"),
		}
		text, err := Collect(context.Background(), p, &ChatRequest{Model: "m"})
		assert.ErrorIs(t, err, app_errors.ErrProviderUnavailable)
		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, "part", text)
	})
}

func TestRunStream(t *testing.T) {
	t.Run("Closes with Done on success", func(t *testing.T) {
		ch := make(chan StreamResponse, 8)
		err := runStream(context.Background(), ch, func(emit EmitFunc) error {
			require.NoError(t, emit(Delta{Content: "a"}))
			require.NoError(t, emit(Delta{Content: "b"}))
			return nil
		})
		require.NoError(t, err)

		chunks := drain(ch)
		require.Len(t, chunks, 3)
		assert.True(t, chunks[2].Done)
		assert.Equal(t, "ab", joinContent(chunks))
	})

	t.Run("Closes with Error on failure", func(t *testing.T) {
		ch := make(chan StreamResponse, 8)
		failure := &UpstreamError{Provider: Groq, StatusCode: 429, Message: "rate limited"}
		err := runStream(context.Background(), ch, func(emit EmitFunc) error { return failure })
		assert.ErrorIs(t, err, app_errors.ErrProviderUnavailable)

		chunks := drain(ch)
		require.Len(t, chunks, 1)
		assert.Contains(t, chunks[0].Error, "rate limited")
		assert.False(t, chunks[0].Done)
	})

	t.Run("Cancelled context closes without Done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ch := make(chan StreamResponse)
		err := runStream(ctx, ch, func(emit EmitFunc) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, drain(ch))
	})
}
