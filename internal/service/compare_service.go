package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	app_errors "polychat/internal/errors"
	"polychat/internal/llm"
	"polychat/internal/model"
	"polychat/internal/repository"
)

// CompareRequest sends one prompt to several provider/model pairs.
type CompareRequest struct {
	Prompt       string                `json:"prompt" validate:"required"`
	SystemPrompt *string               `json:"system_prompt,omitempty"`
	Temperature  *float64              `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Targets      []model.CompareTarget `json:"targets" validate:"required,min=1,dive"`
}

type CompareService struct {
	repo        repository.ComparisonRepository
	llm         llm.Resolver
	maxParallel int
	log         *zap.Logger
}

func NewCompareService(repo repository.ComparisonRepository, resolver llm.Resolver, maxParallel int, log *zap.Logger) *CompareService {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if log == nil {
		log = zap.L()
	}
	return &CompareService{repo: repo, llm: resolver, maxParallel: maxParallel, log: log}
}

// MaxTargets is the largest number of targets one comparison may have.
func (s *CompareService) MaxTargets() int { return s.maxParallel }

func (s *CompareService) validate(req *CompareRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", app_errors.ErrValidation)
	}
	if n := len(req.Targets); n == 0 || n > s.maxParallel {
		return fmt.Errorf("%w: between 1 and %d targets are required", app_errors.ErrValidation, s.maxParallel)
	}
	for i, t := range req.Targets {
		if _, err := llm.ParseProviderName(t.Provider); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if strings.TrimSpace(t.Model) == "" {
			return fmt.Errorf("%w: target %d has no model", app_errors.ErrValidation, i)
		}
	}
	return nil
}

// Compare streams every target's reply into ch concurrently, waits for all
// of them, stores the comparison and finishes with a Complete event. One
// target failing never stops the others. ch is always closed.
func (s *CompareService) Compare(ctx context.Context, req *CompareRequest, ch chan<- model.CompareEvent) {
	defer close(ch)

	if err := s.validate(req); err != nil {
		sendEvent(ctx, ch, model.CompareEvent{Index: -1, Error: err.Error()})
		return
	}

	var messages []llm.Message
	if req.SystemPrompt != nil && strings.TrimSpace(*req.SystemPrompt) != "" {
		messages = append(messages, llm.Message{Role: model.RoleSystem, Content: *req.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: model.RoleUser, Content: req.Prompt})

	results := make([]model.CompareResult, len(req.Targets))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i, t := range req.Targets {
		g.Go(func() error {
			results[i] = s.runTarget(ctx, i, t, messages, req.Temperature, ch)
			// Failures live in the result; returning nil keeps siblings running.
			return nil
		})
	}
	_ = g.Wait()

	comparison := &model.Comparison{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		CreatedAt: time.Now().UTC(),
		Results:   results,
	}
	if err := s.repo.Save(context.WithoutCancel(ctx), comparison); err != nil {
		s.log.Error("Failed to save comparison", zap.Error(err))
		sendEvent(ctx, ch, model.CompareEvent{Index: -1, Error: "Could not save comparison"})
		return
	}
	s.log.Info("Comparison finished", zap.String("comparison_id", comparison.ID), zap.Int("targets", len(results)))
	sendEvent(ctx, ch, model.CompareEvent{Index: -1, Complete: true, ComparisonID: comparison.ID})
}

func (s *CompareService) runTarget(
	ctx context.Context,
	index int,
	t model.CompareTarget,
	messages []llm.Message,
	temperature *float64,
	ch chan<- model.CompareEvent,
) model.CompareResult {
	name, _ := llm.ParseProviderName(t.Provider)
	result := model.CompareResult{Index: index, Provider: string(name), Model: t.Model, StartedAt: time.Now().UTC()}
	finish := func(err error) model.CompareResult {
		result.FinishedAt = time.Now().UTC()
		ev := model.CompareEvent{Index: index, Provider: result.Provider, Model: result.Model, Done: true}
		if err != nil {
			result.Error = err.Error()
			ev.Error = result.Error
			s.log.Warn("Comparison target failed", zap.Int("index", index), zap.String("provider", result.Provider), zap.Error(err))
		}
		sendEvent(ctx, ch, ev)
		return result
	}

	provider, err := s.llm.Provider(name)
	if err != nil {
		return finish(err)
	}

	stream := make(chan llm.StreamResponse)
	go func() {
		_ = provider.ChatStream(ctx, &llm.ChatRequest{Model: t.Model, Messages: messages, Temperature: temperature}, stream)
	}()

	var acc llm.Accumulator
	var streamErr error
	for chunk := range stream {
		if chunk.Error != "" {
			streamErr = errors.New(chunk.Error)
			continue
		}
		if chunk.Content == "" {
			continue
		}
		acc.Append(chunk.Content)
		sendEvent(ctx, ch, model.CompareEvent{Index: index, Provider: result.Provider, Model: result.Model, Content: chunk.Content})
	}
	result.Content = acc.String()
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}
	return finish(streamErr)
}

// List returns stored comparisons, newest first.
func (s *CompareService) List(ctx context.Context) ([]*model.Comparison, error) {
	return s.repo.List(ctx)
}

func (s *CompareService) Get(ctx context.Context, id string) (*model.Comparison, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "comparison '%s'", id)
	}
	return c, nil
}

func (s *CompareService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoError(err, "comparison '%s'", id)
	}
	return nil
}

func sendEvent(ctx context.Context, ch chan<- model.CompareEvent, ev model.CompareEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
