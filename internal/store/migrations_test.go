package store

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	files := fstest.MapFS{
		"migrations/002_more.sql": {Data: []byte("SELECT 2")},
		"migrations/001_init.sql": {Data: []byte("SELECT 1")},
		"migrations/README":       {Data: []byte("ignored")},
	}

	pending, err := pendingMigrations(files, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/001_init.sql", "migrations/002_more.sql"}, pending)

	pending, err = pendingMigrations(files, map[string]bool{"001_init.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/002_more.sql"}, pending)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pending, err := pendingMigrations(migrationFiles, nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "migrations/001_init.sql")
}
