package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"polychat/internal/config"
	app_errors "polychat/internal/errors"
	"polychat/internal/llm"
	"polychat/internal/repository"
)

// Setting keys stored in the settings table.
const (
	KeySystemPrompt     = "system_prompt"
	KeySelectedProvider = "selected_provider"
	KeySelectedModel    = "selected_model"
	KeyFreeModelsOnly   = "free_models_only"
	KeyAutoTitle        = "auto_title"
	KeyOpenRouterAPIKey = "openrouter_api_key"
	KeyGroqAPIKey       = "groq_api_key"
	KeyGeminiAPIKey     = "gemini_api_key"
	KeyOllamaURL        = "ollama_url"
	KeyLMStudioURL      = "lmstudio_url"
)

// endpointKeys are the settings that change how a provider is reached.
var endpointKeys = map[string]bool{
	KeyOpenRouterAPIKey: true,
	KeyGroqAPIKey:       true,
	KeyGeminiAPIKey:     true,
	KeyOllamaURL:        true,
	KeyLMStudioURL:      true,
}

// Settings is the typed view over the settings table.
type Settings struct {
	SystemPrompt     string `json:"system_prompt" validate:"max=20000"`
	SelectedProvider string `json:"selected_provider" validate:"required"`
	SelectedModel    string `json:"selected_model"`
	FreeModelsOnly   bool   `json:"free_models_only"`
	AutoTitle        bool   `json:"auto_title"`
	OpenRouterAPIKey string `json:"openrouter_api_key"`
	GroqAPIKey       string `json:"groq_api_key"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	OllamaURL        string `json:"ollama_url" validate:"omitempty,url"`
	LMStudioURL      string `json:"lmstudio_url" validate:"omitempty,url"`
}

// Masked returns a copy with every API key reduced to its last four runes.
func (s *Settings) Masked() *Settings {
	out := *s
	out.OpenRouterAPIKey = MaskSecret(s.OpenRouterAPIKey)
	out.GroqAPIKey = MaskSecret(s.GroqAPIKey)
	out.GeminiAPIKey = MaskSecret(s.GeminiAPIKey)
	return &out
}

// MaskSecret renders a key as "sk-…abcd". Short keys keep only the ellipsis
// and their last runes.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	r := []rune(secret)
	switch {
	case len(r) <= 4:
		return "…"
	case len(r) <= 8:
		return "…" + string(r[len(r)-4:])
	default:
		return string(r[:3]) + "…" + string(r[len(r)-4:])
	}
}

func (s *Settings) toValues() map[string]string {
	return map[string]string{
		KeySystemPrompt:     s.SystemPrompt,
		KeySelectedProvider: s.SelectedProvider,
		KeySelectedModel:    s.SelectedModel,
		KeyFreeModelsOnly:   strconv.FormatBool(s.FreeModelsOnly),
		KeyAutoTitle:        strconv.FormatBool(s.AutoTitle),
		KeyOpenRouterAPIKey: s.OpenRouterAPIKey,
		KeyGroqAPIKey:       s.GroqAPIKey,
		KeyGeminiAPIKey:     s.GeminiAPIKey,
		KeyOllamaURL:        s.OllamaURL,
		KeyLMStudioURL:      s.LMStudioURL,
	}
}

func settingsFromValues(v map[string]string) *Settings {
	return &Settings{
		SystemPrompt:     v[KeySystemPrompt],
		SelectedProvider: v[KeySelectedProvider],
		SelectedModel:    v[KeySelectedModel],
		FreeModelsOnly:   parseBool(v[KeyFreeModelsOnly]),
		AutoTitle:        parseBool(v[KeyAutoTitle]),
		OpenRouterAPIKey: v[KeyOpenRouterAPIKey],
		GroqAPIKey:       v[KeyGroqAPIKey],
		GeminiAPIKey:     v[KeyGeminiAPIKey],
		OllamaURL:        v[KeyOllamaURL],
		LMStudioURL:      v[KeyLMStudioURL],
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// EndpointConfigurer receives provider endpoints whenever settings change.
type EndpointConfigurer interface {
	Configure(name llm.ProviderName, ep llm.Endpoint)
}

type SettingsService struct {
	repo      repository.SettingsRepository
	endpoints EndpointConfigurer
	log       *zap.Logger

	mu       sync.RWMutex
	baseURLs map[llm.ProviderName]string
}

func NewSettingsService(repo repository.SettingsRepository, endpoints EndpointConfigurer, log *zap.Logger) *SettingsService {
	if log == nil {
		log = zap.L()
	}
	return &SettingsService{
		repo:      repo,
		endpoints: endpoints,
		log:       log,
		baseURLs:  make(map[llm.ProviderName]string),
	}
}

// InitAndGet seeds every missing setting from cfg, pushes the resulting
// endpoints into the registry and returns the effective settings. Values
// already stored are never overwritten.
func (s *SettingsService) InitAndGet(ctx context.Context, cfg *config.Config) (*Settings, error) {
	s.mu.Lock()
	s.baseURLs[llm.OpenRouter] = cfg.OpenRouterURL
	s.baseURLs[llm.Groq] = cfg.GroqURL
	s.baseURLs[llm.Gemini] = cfg.GeminiURL
	s.mu.Unlock()

	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	defaults := map[string]string{
		KeySystemPrompt:     cfg.InitialSystemPrompt,
		KeySelectedProvider: cfg.DefaultProvider,
		KeySelectedModel:    "",
		KeyFreeModelsOnly:   "false",
		KeyAutoTitle:        "false",
		KeyOpenRouterAPIKey: cfg.OpenRouterAPIKey,
		KeyGroqAPIKey:       cfg.GroqAPIKey,
		KeyGeminiAPIKey:     cfg.GeminiAPIKey,
		KeyOllamaURL:        cfg.OllamaURL,
		KeyLMStudioURL:      cfg.LMStudioURL,
	}
	missing := make(map[string]string)
	for k, v := range defaults {
		if _, ok := stored[k]; !ok {
			missing[k] = v
			stored[k] = v
		}
	}

	if len(missing) > 0 {
		s.log.Info("Seeding missing settings from configuration.", zap.Int("count", len(missing)))
		if err := s.repo.SetMany(ctx, missing); err != nil {
			return nil, fmt.Errorf("failed to save initial settings: %w", err)
		}
	} else {
		s.log.Info("Found existing settings.")
	}

	settings := settingsFromValues(stored)
	s.applyEndpoints(settings)
	return settings, nil
}

// Get returns the current settings.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settingsFromValues(values), nil
}

// Save validates and stores settings, then reconfigures providers. A key
// that comes back in its masked form keeps the stored value.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	name, err := llm.ParseProviderName(settings.SelectedProvider)
	if err != nil {
		return err
	}
	settings.SelectedProvider = string(name)
	settings.SelectedModel = strings.TrimSpace(settings.SelectedModel)
	settings.OllamaURL = strings.TrimSpace(settings.OllamaURL)
	settings.LMStudioURL = strings.TrimSpace(settings.LMStudioURL)

	current, err := s.Get(ctx)
	if err != nil {
		return err
	}
	settings.OpenRouterAPIKey = unmask(settings.OpenRouterAPIKey, current.OpenRouterAPIKey)
	settings.GroqAPIKey = unmask(settings.GroqAPIKey, current.GroqAPIKey)
	settings.GeminiAPIKey = unmask(settings.GeminiAPIKey, current.GeminiAPIKey)

	if err := s.repo.SetMany(ctx, settings.toValues()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.applyEndpoints(settings)
	s.log.Info("Settings saved.", zap.String("selected_provider", settings.SelectedProvider), zap.String("selected_model", settings.SelectedModel))
	return nil
}

func unmask(incoming, stored string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming != "" && incoming == MaskSecret(stored) {
		return stored
	}
	return incoming
}

// IsSecretKey reports whether a raw setting holds an API key.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, "_api_key")
}

// GetValue returns a single raw setting.
func (s *SettingsService) GetValue(ctx context.Context, key string) (string, error) {
	v, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: setting '%s'", app_errors.ErrNotFound, key)
		}
		return "", err
	}
	return v, nil
}

// SetValue stores a single raw setting. Known keys are validated, and
// endpoint keys reconfigure providers. An API key posted back in its
// masked form keeps the stored value.
func (s *SettingsService) SetValue(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", app_errors.ErrValidation)
	}
	switch key {
	case KeySelectedProvider:
		name, err := llm.ParseProviderName(value)
		if err != nil {
			return err
		}
		value = string(name)
	case KeyFreeModelsOnly, KeyAutoTitle:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s must be a boolean", app_errors.ErrValidation, key)
		}
		value = strconv.FormatBool(b)
	}
	if IsSecretKey(key) {
		stored, err := s.repo.Get(ctx, key)
		switch {
		case err == nil:
			value = unmask(value, stored)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to load setting %s: %w", key, err)
		}
	}

	if err := s.repo.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return s.reapplyIfEndpoint(ctx, key)
}

// DeleteValue removes a single raw setting.
func (s *SettingsService) DeleteValue(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: setting '%s'", app_errors.ErrNotFound, key)
		}
		return err
	}
	return s.reapplyIfEndpoint(ctx, key)
}

func (s *SettingsService) reapplyIfEndpoint(ctx context.Context, key string) error {
	if !endpointKeys[key] {
		return nil
	}
	settings, err := s.Get(ctx)
	if err != nil {
		return err
	}
	s.applyEndpoints(settings)
	return nil
}

func (s *SettingsService) applyEndpoints(settings *Settings) {
	if s.endpoints == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.endpoints.Configure(llm.OpenRouter, llm.Endpoint{BaseURL: s.baseURLs[llm.OpenRouter], APIKey: settings.OpenRouterAPIKey})
	s.endpoints.Configure(llm.Groq, llm.Endpoint{BaseURL: s.baseURLs[llm.Groq], APIKey: settings.GroqAPIKey})
	s.endpoints.Configure(llm.Gemini, llm.Endpoint{BaseURL: s.baseURLs[llm.Gemini], APIKey: settings.GeminiAPIKey})
	s.endpoints.Configure(llm.Ollama, llm.Endpoint{BaseURL: settings.OllamaURL})
	s.endpoints.Configure(llm.LMStudio, llm.Endpoint{BaseURL: settings.LMStudioURL})
}
