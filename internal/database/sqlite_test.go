package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	for _, table := range []string{"chats", "messages", "settings", "comparisons", "comparison_results"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	t.Run("Migrate is idempotent", func(t *testing.T) {
		assert.NoError(t, Migrate(db))
	})

	t.Run("Foreign keys are enforced", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO messages (id, chat_id, position, role, content, timestamp)
			VALUES ('m1', 'missing-chat', 0, 'user', 'hi', CURRENT_TIMESTAMP)`)
		assert.Error(t, err)
	})
}
