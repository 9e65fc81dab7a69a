package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	app_errors "polychat/internal/errors"
)

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 4 << 10

// sharedStreamingClient is used for every provider request. It has no client
// timeout; each request is bounded by its context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// HTTPDoer is the subset of *http.Client used by providers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpstreamError is a failure reported by the provider itself, either as a
// non-200 status or as an error object inside the stream.
type UpstreamError struct {
	Provider   ProviderName
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error { return app_errors.ErrProviderUnavailable }

// Option customizes a provider.
type Option func(*options)

type options struct {
	client  HTTPDoer
	limiter *rate.Limiter
	log     *zap.Logger
}

// WithHTTPClient replaces the shared streaming client.
func WithHTTPClient(c HTTPDoer) Option { return func(o *options) { o.client = c } }

// WithRateLimiter throttles outbound requests.
func WithRateLimiter(l *rate.Limiter) Option { return func(o *options) { o.limiter = l } }

// WithLogger sets the provider's logger.
func WithLogger(log *zap.Logger) Option { return func(o *options) { o.log = log } }

func buildOptions(opts []Option) options {
	o := options{client: sharedStreamingClient, log: zap.L()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o
}

// transport performs the HTTP work shared by all providers.
type transport struct {
	provider ProviderName
	client   HTTPDoer
	limiter  *rate.Limiter
	headers  map[string]string
}

func newTransport(provider ProviderName, o options, headers map[string]string) *transport {
	return &transport{provider: provider, client: o.client, limiter: o.limiter, headers: headers}
}

// do sends the request and returns the response only for 200 OK. The
// caller owns the body.
func (t *transport) do(ctx context.Context, method, url string, payload any) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s request failed: %v", app_errors.ErrProviderUnavailable, t.provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Provider: t.provider, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return resp, nil
}

// getJSON issues a GET and decodes the JSON body into out.
func (t *transport) getJSON(ctx context.Context, url string, out any) error {
	resp, err := t.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode %s response: %w", t.provider, err)
	}
	return nil
}

// stream POSTs payload and feeds the body through reader.
func (t *transport) stream(ctx context.Context, url string, payload any, reader *Reader, emit EmitFunc) error {
	resp, err := t.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return reader.Read(ctx, resp.Body, nil, emit)
}

// errorMessage pulls a human-readable message out of the usual error
// envelopes: {"error":"..."} and {"error":{"message":"..."}}.
func errorMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := rawErrorMessage(envelope.Error); msg != "" {
			return msg
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func rawErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
