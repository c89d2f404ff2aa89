package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

func TestResolveMigrationPath(t *testing.T) {
	resolved := ResolveMigrationPath("")
	assert.True(t, filepath.IsAbs(resolved))
	assert.Equal(t, "migrations", filepath.Base(resolved))

	assert.Equal(t, "/srv/migrations", ResolveMigrationPath("/srv/migrations"))
}

func TestMigrationManager_UpDown(t *testing.T) {
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("Skipping migration test: TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	manager, err := NewMigrationManager(db, "../../migrations", newTestLogger())
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Up())

	version, dirty, err := manager.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))

	var exists bool
	err = db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'messages')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, manager.Up())
}
