package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	tables := []string{
		"repositories", "commits", "emails", "contributors", "organizations",
		"commit_repositories", "contributor_repositories", "contributor_organizations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// Running the migrations again is a no-op
	assert.NoError(t, Migrate(db))
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO organizations (login, url) VALUES (?, ?)`, "acme", "https://github.com/acme")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&count))
	assert.Equal(t, 1, count)
}
