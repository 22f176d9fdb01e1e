package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/clinicos/backoffice/migrations"
)

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"0002_payments.sql": {Data: []byte("CREATE TABLE b();")},
		"0001_core.sql":     {Data: []byte("CREATE TABLE a();")},
		"README.md":         {Data: []byte("docs")},
		"draft.sql":         {Data: []byte("SELECT 1;")},
		"x_notes.sql":       {Data: []byte("SELECT 1;")},
	}
	migs, err := loadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	require.Equal(t, 1, migs[0].Version)
	require.Equal(t, "0001_core.sql", migs[0].Name)
	require.Equal(t, 2, migs[1].Version)
}

func TestLoadMigrationsRejectsDuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"0001_core.sql": {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}
	_, err := loadMigrations(files)
	require.Error(t, err)
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migs, err := loadMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	require.Equal(t, 1, migs[0].Version)
	require.Contains(t, migs[0].SQL, "journal_entries")
}
