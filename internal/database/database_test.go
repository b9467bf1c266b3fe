package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/config"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(MigrationSource(config.DatabaseConfig{}), "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_prompt_library.sql", files[0])
}

func TestMigrationSourceFromDir(t *testing.T) {
	dir := t.TempDir()
	files, err := fs.Glob(MigrationSource(config.DatabaseConfig{MigrationsPath: dir}), "*.sql")
	require.NoError(t, err)
	assert.Empty(t, files)
}
