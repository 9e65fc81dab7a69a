package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polychat/internal/model"
	"polychat/internal/repository"
)

func newComparison(prompt string, createdAt time.Time) *model.Comparison {
	return &model.Comparison{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		CreatedAt: createdAt,
		Results: []model.CompareResult{
			{Index: 0, Provider: "ollama", Model: "llama3", Content: "Paris", StartedAt: createdAt, FinishedAt: createdAt.Add(time.Second)},
			{Index: 1, Provider: "groq", Model: "mixtral", Error: "groq returned status 401: invalid key", StartedAt: createdAt, FinishedAt: createdAt},
		},
	}
}

// exerciseComparisonRepository runs the same contract against every store.
func exerciseComparisonRepository(t *testing.T, repo repository.ComparisonRepository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := newComparison("capital of France?", base.Add(-time.Minute))
	second := newComparison("capital of Spain?", base)
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Prompt, got.Prompt)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "Paris", got.Results[0].Content)
	assert.Empty(t, got.Results[0].Error)
	assert.Equal(t, "groq", got.Results[1].Provider)
	assert.Contains(t, got.Results[1].Error, "401")

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(list), 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.Get(ctx, first.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), repository.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, second.ID))
}

func TestSQLiteComparisonRepository(t *testing.T) {
	exerciseComparisonRepository(t, repository.NewSQLiteComparisonRepository(setupDB(t)))
}

func TestRedisComparisonRepository(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	exerciseComparisonRepository(t, repository.NewRedisComparisonRepository(rdb))
}
