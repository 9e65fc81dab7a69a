package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"polychat/internal/model"
)

const comparisonsIndexKey = "comparisons"

type redisComparisonRepository struct {
	rdb *redis.Client
}

// NewRedisComparisonRepository stores each comparison in a hash and keeps a
// sorted set of ids scored by negative creation time, so ZRANGE yields
// newest first.
func NewRedisComparisonRepository(rdb *redis.Client) ComparisonRepository {
	return &redisComparisonRepository{rdb: rdb}
}

func comparisonKey(id string) string { return fmt.Sprintf("comparison:%s", id) }

func comparisonToHash(c *model.Comparison) (map[string]any, error) {
	results, err := json.Marshal(c.Results)
	if err != nil {
		return nil, fmt.Errorf("could not encode results: %w", err)
	}
	return map[string]any{
		"id":         c.ID,
		"prompt":     c.Prompt,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"results":    string(results),
	}, nil
}

func hashToComparison(h map[string]string) (*model.Comparison, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil, fmt.Errorf("could not decode created_at: %w", err)
	}
	c := &model.Comparison{ID: h["id"], Prompt: h["prompt"], CreatedAt: createdAt, Results: []model.CompareResult{}}
	if raw := h["results"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Results); err != nil {
			return nil, fmt.Errorf("could not decode results: %w", err)
		}
	}
	return c, nil
}

func (r *redisComparisonRepository) Save(ctx context.Context, c *model.Comparison) error {
	fields, err := comparisonToHash(c)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, comparisonKey(c.ID), fields)
	pipe.ZAdd(ctx, comparisonsIndexKey, redis.Z{Score: float64(-c.CreatedAt.UnixNano()), Member: c.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisComparisonRepository) Get(ctx context.Context, id string) (*model.Comparison, error) {
	h, err := r.rdb.HGetAll(ctx, comparisonKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return hashToComparison(h)
}

func (r *redisComparisonRepository) List(ctx context.Context) ([]*model.Comparison, error) {
	ids, err := r.rdb.ZRange(ctx, comparisonsIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]*model.Comparison, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its hash; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *redisComparisonRepository) Delete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	del := pipe.Del(ctx, comparisonKey(id))
	pipe.ZRem(ctx, comparisonsIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute comparison deletion pipeline: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}
