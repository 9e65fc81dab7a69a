package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	app_errors "polychat/internal/errors"
)

func TestOpenAIProvider_ChatStream(t *testing.T) {
	var gotBody openAIChatRequest
	var gotAuth, gotTitle string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant","content":""},"finish_reason":null}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hello"},"finish_reason":null}]}`+"\n\n")
		flusher.Flush()
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":", wor`)
		flusher.Flush()
		fmt.Fprint(w, `ld"},"finish_reason":null}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	temp := 0.2
	p := NewOpenRouterProvider(server.URL+"/api/v1", "sk-test", WithLogger(zap.NewNop()))
	ch := make(chan StreamResponse)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.ChatStream(context.Background(), &ChatRequest{
			Model:       "meta/llama:free",
			Messages:    []Message{{Role: "system", Content: "Be brief."}, {Role: "user", Content: "Hi"}},
			Temperature: &temp,
		}, ch)
	}()

	chunks := drain(ch)
	require.NoError(t, <-errCh)

	assert.Equal(t, "Hello, world", joinContent(chunks))
	assert.True(t, chunks[len(chunks)-1].Done)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "Polychat", gotTitle)
	assert.Equal(t, "meta/llama:free", gotBody.Model)
	assert.True(t, gotBody.Stream)
	require.NotNil(t, gotBody.Temperature)
	assert.Equal(t, 0.2, *gotBody.Temperature)
	assert.Len(t, gotBody.Messages, 2)
}

func TestOpenAIProvider_ChatStreamErrors(t *testing.T) {
	testCases := []struct {
		name        string
		handler     http.HandlerFunc
		wantMessage string
		wantContent string
	}{
		{
			name: "Non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":{"message":"No auth credentials found","code":401}}`)
			},
			wantMessage: "No auth credentials found",
		},
		{
			name: "Error object mid-stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"par"}}]}`+"\n\n")
				fmt.Fprint(w, `data: {"error":{"message":"upstream overloaded"}}`+"\n\n")
			},
			wantMessage: "upstream overloaded",
			wantContent: "par",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			p := NewGroqProvider(server.URL, "gsk", WithLogger(zap.NewNop()))
			ch := make(chan StreamResponse)
			errCh := make(chan error, 1)
			go func() { errCh <- p.ChatStream(context.Background(), &ChatRequest{Model: "llama3"}, ch) }()

			chunks := drain(ch)
			err := <-errCh

			assert.ErrorIs(t, err, app_errors.ErrProviderUnavailable)
			var upstream *UpstreamError
			require.True(t, errors.As(err, &upstream))
			assert.Equal(t, Groq, upstream.Provider)
			assert.Equal(t, tc.wantMessage, upstream.Message)

			require.NotEmpty(t, chunks)
			last := chunks[len(chunks)-1]
			assert.Contains(t, last.Error, tc.wantMessage)
			assert.False(t, last.Done)
			assert.Equal(t, tc.wantContent, joinContent(chunks))
		})
	}
}

func TestOpenAIProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p := NewLMStudioProvider(url, WithLogger(zap.NewNop()))
	ch := make(chan StreamResponse)
	errCh := make(chan error, 1)
	go func() { errCh <- p.ChatStream(context.Background(), &ChatRequest{Model: "local"}, ch) }()

	chunks := drain(ch)
	assert.ErrorIs(t, <-errCh, app_errors.ErrProviderUnavailable)
	require.Len(t, chunks, 1)
	assert.NotEmpty(t, chunks[0].Error)
}

func TestOpenAIProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"meta/llama:free","name":"Llama (free)","context_length":8192,"pricing":{"prompt":"0","completion":"0"}},
			{"id":"openai/gpt-4o","name":"GPT-4o","context_length":128000,"pricing":{"prompt":"0.000005","completion":"0.000015"}},
			{"id":"qwen2.5-7b-instruct","context_window":32768}
		]}`)
	}))
	defer server.Close()

	// LM Studio adds /v1 to its base URL.
	p := NewLMStudioProvider(server.URL, WithLogger(zap.NewNop()))
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)

	assert.Equal(t, "Llama (free)", models[0].Name)
	assert.Equal(t, LMStudio, models[0].Provider)
	assert.Equal(t, 8192, models[0].ContextLength)
	assert.Equal(t, "qwen2.5-7b-instruct", models[2].Name)
	assert.Equal(t, 32768, models[2].ContextLength)

	free := FilterFree(models)
	require.Len(t, free, 1)
	assert.Equal(t, "meta/llama:free", free[0].ID)
}
