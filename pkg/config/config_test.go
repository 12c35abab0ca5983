package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.GitHub.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.GitHub.RateLimitPadding)
	assert.Equal(t, 180*time.Second, cfg.GitHub.AbuseDelayMin)
	assert.Equal(t, 480*time.Second, cfg.GitHub.AbuseDelayMax)
	assert.Equal(t, 10*time.Second, cfg.GitHub.TimeoutDelay)
	assert.Equal(t, 100000, cfg.Scan.MaxNewCommits)
	assert.Equal(t, 1000, cfg.Scan.FlushSize)
	assert.Equal(t, 5*24*time.Hour, cfg.Scan.RepositoryRescanInterval)
	assert.Equal(t, 14*24*time.Hour, cfg.Scan.ContributorRescanInterval)
	assert.Equal(t, 4, cfg.Workers.UserScan)
	assert.Equal(t, 4, cfg.Workers.CommitScan)
	assert.Equal(t, "/tmp/gitalizer", cfg.Clone.Path)
}

func TestLoadOverrides(t *testing.T) {
	t.Run("Environment variables", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("GITHUB_TOKEN", "secret")
		t.Setenv("SCAN_FLUSH_SIZE", "50")
		t.Setenv("WORKERS_COOLDOWN", "250ms")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "secret", cfg.GitHub.Token)
		assert.Equal(t, 50, cfg.Scan.FlushSize)
		assert.Equal(t, 250*time.Millisecond, cfg.Workers.Cooldown)
	})

	t.Run("Config file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "custom.yaml")
		content := "scan:\n  max_new_commits: 10\nclone:\n  path: /var/tmp/scratch\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 10, cfg.Scan.MaxNewCommits)
		assert.Equal(t, "/var/tmp/scratch", cfg.Clone.Path)
		assert.Equal(t, 1000, cfg.Scan.FlushSize)
	})

	t.Run("Invalid limits are rejected", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("SCAN_FLUSH_SIZE", "0")

		_, err := Load("")
		assert.Error(t, err)
	})
}
