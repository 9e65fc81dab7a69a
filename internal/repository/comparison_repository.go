package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"polychat/internal/model"
)

type sqliteComparisonRepository struct {
	db *sql.DB
}

func NewSQLiteComparisonRepository(db *sql.DB) ComparisonRepository {
	return &sqliteComparisonRepository{db: db}
}

func (r *sqliteComparisonRepository) Save(ctx context.Context, c *model.Comparison) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT INTO comparisons (id, prompt, created_at) VALUES (?, ?, ?)", c.ID, c.Prompt, c.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("could not insert comparison: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comparison_results (comparison_id, idx, provider, model, content, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("could not prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range c.Results {
		var resErr sql.NullString
		if res.Error != "" {
			resErr = sql.NullString{String: res.Error, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, res.Index, res.Provider, res.Model, res.Content, resErr, res.StartedAt.UTC(), res.FinishedAt.UTC()); err != nil {
			return fmt.Errorf("could not insert result %d: %w", res.Index, err)
		}
	}
	return tx.Commit()
}

func (r *sqliteComparisonRepository) Get(ctx context.Context, id string) (*model.Comparison, error) {
	var c model.Comparison
	err := r.db.QueryRowContext(ctx, "SELECT id, prompt, created_at FROM comparisons WHERE id = ?", id).Scan(&c.ID, &c.Prompt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Results, err = r.results(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *sqliteComparisonRepository) results(ctx context.Context, id string) ([]model.CompareResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, provider, model, content, error, started_at, finished_at
		FROM comparison_results WHERE comparison_id = ? ORDER BY idx ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.CompareResult, 0)
	for rows.Next() {
		var res model.CompareResult
		var resErr sql.NullString
		if err := rows.Scan(&res.Index, &res.Provider, &res.Model, &res.Content, &resErr, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, err
		}
		res.Error = resErr.String
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *sqliteComparisonRepository) List(ctx context.Context) ([]*model.Comparison, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM comparisons ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Comparison, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *sqliteComparisonRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM comparisons WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
