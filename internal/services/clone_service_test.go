package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/pkg/config"
)

func TestCloneService_Clone(t *testing.T) {
	ctx := context.Background()
	service := NewCloneService(config.CloneConfig{Path: t.TempDir()}, "")

	t.Run("Clones and refreshes a leftover copy", func(t *testing.T) {
		upstream := newTestGitRepo(t)
		upstream.linear(2, "dev@example.com")
		repo := models.NewRepository(upstream.dir, "r", "o/r")

		clone, err := service.Clone(ctx, repo)
		require.NoError(t, err)
		head, err := clone.Repository.Head()
		require.NoError(t, err)
		upstreamHead, err := upstream.repo.Head()
		require.NoError(t, err)
		assert.Equal(t, upstreamHead.Hash(), head.Hash())

		// Leave the copy on disk as an interrupted run would
		require.NoError(t, clone.lock.Unlock())
		upstream.linear(1, "dev@example.com")

		clone, err = service.Clone(ctx, repo)
		require.NoError(t, err)
		head, err = clone.Repository.Head()
		require.NoError(t, err)
		upstreamHead, err = upstream.repo.Head()
		require.NoError(t, err)
		assert.Equal(t, upstreamHead.Hash(), head.Hash())

		clone.Cleanup()
		_, err = os.Stat(clone.Path)
		assert.True(t, os.IsNotExist(err))

		// The lock file outlives the copy and is free to take
		_, err = os.Stat(clone.Path + ".lock")
		require.NoError(t, err)
		next := flock.New(clone.Path + ".lock")
		locked, err := next.TryLock()
		require.NoError(t, err)
		assert.True(t, locked)
		require.NoError(t, next.Unlock())
	})

	t.Run("Empty remote", func(t *testing.T) {
		dir := t.TempDir()
		_, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		// Depending on the transport an empty remote fails the clone or yields no HEAD
		clone, err := service.Clone(ctx, models.NewRepository(dir, "empty", "o/empty"))
		if err != nil {
			assert.ErrorIs(t, err, ErrEmptyRepository)
			return
		}
		defer clone.Cleanup()
		_, err = clone.Repository.Head()
		assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
	})

	t.Run("Missing remote", func(t *testing.T) {
		_, err := service.Clone(ctx, models.NewRepository(filepath.Join(t.TempDir(), "missing"), "missing", "o/missing"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmptyRepository)
	})
}

func TestCloneService_Auth(t *testing.T) {
	service := NewCloneService(config.CloneConfig{Path: t.TempDir()}, "secret")

	auth, err := service.auth("https://github.com/o/r.git")
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "http-basic-auth", auth.Name())

	auth, err = service.auth("git@github.com:o/r.git")
	require.NoError(t, err)
	assert.Nil(t, auth, "no key configured")

	_, err = NewCloneService(config.CloneConfig{SSHUser: "git", SSHPrivateKey: "/does/not/exist"}, "").auth("git@github.com:o/r.git")
	assert.Error(t, err)
}
