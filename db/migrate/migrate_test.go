package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		assert.Regexp(t, `^\d{5}_[a-z_]+\.sql$`, e.Name())
	}
}

func TestMigrationsCarryGooseMarkers(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	for _, e := range entries {
		raw, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(raw), "-- +goose Up", e.Name())
		assert.Contains(t, string(raw), "-- +goose Down", e.Name())
	}
}

func TestVectorExtensionPrecedesVectorColumns(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/00002_vectors.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "CREATE EXTENSION IF NOT EXISTS vector")
}
