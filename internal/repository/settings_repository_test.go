package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polychat/internal/repository"
)

const upsertQuery = "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"

func setupSettingsRepo(t *testing.T) (repository.SettingsRepository, sqlmock.Sqlmock) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteSettingsRepository(db), mockDB
}

func TestSettingsRepository_GetAll(t *testing.T) {
	repo, mockDB := setupSettingsRepo(t)
	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("system_prompt", "Be brief.").
		AddRow("selected_provider", "groq")
	mockDB.ExpectQuery("SELECT key, value FROM settings").WillReturnRows(rows)

	values, err := repo.GetAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"system_prompt": "Be brief.", "selected_provider": "groq"}, values)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSettingsRepository_Get(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		repo, mockDB := setupSettingsRepo(t)
		mockDB.ExpectQuery(regexp.QuoteMeta("SELECT value FROM settings WHERE key = ?")).
			WithArgs("ollama_url").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("http://gpu-box:11434"))

		v, err := repo.Get(context.Background(), "ollama_url")
		require.NoError(t, err)
		assert.Equal(t, "http://gpu-box:11434", v)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		repo, mockDB := setupSettingsRepo(t)
		mockDB.ExpectQuery(regexp.QuoteMeta("SELECT value FROM settings WHERE key = ?")).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestSettingsRepository_SetMany(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mockDB := setupSettingsRepo(t)

		mockDB.ExpectBegin()
		prep := mockDB.ExpectPrepare(regexp.QuoteMeta(upsertQuery))
		prep.ExpectExec().WithArgs("a_key", "1").WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs("b_key", "2").WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectCommit()

		err := repo.SetMany(context.Background(), map[string]string{"b_key": "2", "a_key": "1"})
		require.NoError(t, err)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Failure rolls back", func(t *testing.T) {
		repo, mockDB := setupSettingsRepo(t)

		mockDB.ExpectBegin()
		prep := mockDB.ExpectPrepare(regexp.QuoteMeta(upsertQuery))
		prep.ExpectExec().WithArgs("a_key", "1").WillReturnError(errors.New("disk full"))
		mockDB.ExpectRollback()

		err := repo.SetMany(context.Background(), map[string]string{"a_key": "1"})
		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestSettingsRepository_SetAndDelete(t *testing.T) {
	repo, mockDB := setupSettingsRepo(t)

	mockDB.ExpectExec(regexp.QuoteMeta(upsertQuery)).WithArgs("auto_title", "true").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec(regexp.QuoteMeta("DELETE FROM settings WHERE key = ?")).WithArgs("auto_title").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec(regexp.QuoteMeta("DELETE FROM settings WHERE key = ?")).WithArgs("auto_title").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, "auto_title", "true"))
	require.NoError(t, repo.Delete(ctx, "auto_title"))
	assert.ErrorIs(t, repo.Delete(ctx, "auto_title"), repository.ErrNotFound)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}
