package service

import (
	"context"

	"go.uber.org/zap"

	"polychat/internal/llm"
)

// ModelService lists the models each provider can serve.
type ModelService struct {
	llm      llm.Directory
	settings *SettingsService
	log      *zap.Logger
}

// NewModelService creates a new ModelService.
func NewModelService(directory llm.Directory, settings *SettingsService, log *zap.Logger) *ModelService {
	if log == nil {
		log = zap.L()
	}
	return &ModelService{llm: directory, settings: settings, log: log}
}

// List returns the models of provider, or of the selected provider when it
// is empty. freeOnly overrides the free_models_only setting when non-nil.
// An unreachable or unconfigured provider yields an empty list.
func (s *ModelService) List(ctx context.Context, provider string, freeOnly *bool) ([]llm.ModelInfo, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.log.Warn("Could not load settings for model listing", zap.Error(err))
		settings = &Settings{}
	}
	if provider == "" {
		provider = settings.SelectedProvider
	}
	name, err := llm.ParseProviderName(provider)
	if err != nil {
		return nil, err
	}

	free := settings.FreeModelsOnly
	if freeOnly != nil {
		free = *freeOnly
	}

	p, err := s.llm.Provider(name)
	if err != nil {
		s.log.Warn("Provider not available for model listing", zap.String("provider", string(name)), zap.Error(err))
		return []llm.ModelInfo{}, nil
	}
	models, err := p.ListModels(ctx)
	if err != nil {
		s.log.Warn("Could not list models", zap.String("provider", string(name)), zap.Error(err))
		return []llm.ModelInfo{}, nil
	}

	if free {
		return llm.FilterFree(models), nil
	}
	return models, nil
}

// Providers reports every provider and whether it is ready to use.
func (s *ModelService) Providers() []llm.ProviderStatus {
	return s.llm.Status()
}
