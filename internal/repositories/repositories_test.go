package repositories

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/pkg/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createRepository(t *testing.T, repos *RepositoryRepository, cloneURL, fullName string) *models.Repository {
	t.Helper()
	_, name, _ := strings.Cut(fullName, "/")
	repo := models.NewRepository(cloneURL, name, fullName)
	require.NoError(t, repos.Create(context.Background(), repo))
	return repo
}

func TestRepositoryRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repos := NewRepositoryRepository(db)

	t.Run("Duplicate create is a unique violation", func(t *testing.T) {
		createRepository(t, repos, "https://github.com/a/dup.git", "a/dup")
		err := repos.Create(ctx, models.NewRepository("https://github.com/a/dup.git", "dup", "a/dup"))
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("Missing repository", func(t *testing.T) {
		_, err := repos.GetByCloneURL(ctx, "https://github.com/nobody/nothing.git")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repos.GetByFullName(ctx, "nobody/nothing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Parent is set at most once", func(t *testing.T) {
		createRepository(t, repos, "https://github.com/up/lib.git", "up/lib")
		createRepository(t, repos, "https://github.com/other/lib.git", "other/lib")
		createRepository(t, repos, "https://github.com/me/lib.git", "me/lib")

		set, err := repos.SetParent(ctx, "https://github.com/me/lib.git", "https://github.com/up/lib.git")
		require.NoError(t, err)
		assert.True(t, set)

		set, err = repos.SetParent(ctx, "https://github.com/me/lib.git", "https://github.com/other/lib.git")
		require.NoError(t, err)
		assert.False(t, set)

		repo, err := repos.GetByCloneURL(ctx, "https://github.com/me/lib.git")
		require.NoError(t, err)
		require.NotNil(t, repo.ParentURL)
		assert.Equal(t, "https://github.com/up/lib.git", *repo.ParentURL)
	})

	t.Run("Completely scanned is monotonic", func(t *testing.T) {
		repo := createRepository(t, repos, "https://github.com/a/mono.git", "a/mono")
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repos.MarkScanned(ctx, repo.CloneURL, nil, now))

		repo.CompletelyScanned = false
		repo.Broken = true
		require.NoError(t, repos.Update(ctx, repo))

		stored, err := repos.GetByCloneURL(ctx, repo.CloneURL)
		require.NoError(t, err)
		assert.True(t, stored.CompletelyScanned)
		assert.True(t, stored.Broken)
		require.NotNil(t, stored.UpdatedAt)
		assert.True(t, now.Equal(*stored.UpdatedAt))
	})

	t.Run("Created at is only backfilled once", func(t *testing.T) {
		repo := createRepository(t, repos, "https://github.com/a/created.git", "a/created")
		first := time.Date(2015, 1, 2, 3, 4, 5, 0, time.FixedZone("", 3600))
		second := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

		require.NoError(t, repos.MarkScanned(ctx, repo.CloneURL, &first, time.Now()))
		require.NoError(t, repos.MarkScanned(ctx, repo.CloneURL, &second, time.Now()))

		stored, err := repos.GetByCloneURL(ctx, repo.CloneURL)
		require.NoError(t, err)
		require.NotNil(t, stored.CreatedAt)
		assert.True(t, first.Equal(*stored.CreatedAt))
	})

	t.Run("Reset flags", func(t *testing.T) {
		repo := createRepository(t, repos, "https://github.com/a/huge.git", "a/huge")
		require.NoError(t, repos.MarkTooBig(ctx, repo.CloneURL))

		candidates, err := repos.ListScanCandidates(ctx)
		require.NoError(t, err)
		for _, c := range candidates {
			assert.NotEqual(t, repo.CloneURL, c.CloneURL)
		}

		require.NoError(t, repos.ResetFlags(ctx, "a/huge"))
		stored, err := repos.GetByCloneURL(ctx, repo.CloneURL)
		require.NoError(t, err)
		assert.False(t, stored.TooBig)

		assert.ErrorIs(t, repos.ResetFlags(ctx, "a/missing"), ErrNotFound)
	})
}

func TestCommitRepositoryCreateBatch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repos := NewRepositoryRepository(db)
	emails := NewEmailRepository(db)
	commits := NewCommitRepository(db)

	upstream := createRepository(t, repos, "https://github.com/up/lib.git", "up/lib")
	fork := createRepository(t, repos, "https://github.com/me/lib.git", "me/lib")
	require.NoError(t, emails.Create(ctx, models.NewEmail("dev@example.com")))

	zone := time.FixedZone("", -5*3600)
	batch := []*models.Commit{
		models.NewCommit("a1", "dev@example.com", "dev@example.com", time.Date(2020, 1, 1, 9, 0, 0, 0, zone), time.Date(2020, 1, 1, 9, 0, 0, 0, zone)),
		models.NewCommit("b2", "dev@example.com", "dev@example.com", time.Date(2019, 5, 1, 9, 0, 0, 0, zone), time.Date(2019, 5, 1, 9, 0, 0, 0, zone)),
	}
	batch[0].SetStats(10, 2)

	created, err := commits.CreateBatch(ctx, upstream.CloneURL, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	t.Run("Re-inserting the same commits adds nothing", func(t *testing.T) {
		created, err := commits.CreateBatch(ctx, upstream.CloneURL, batch)
		require.NoError(t, err)
		assert.Equal(t, 0, created)

		count, err := commits.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Commits seen through a fork only gain an association", func(t *testing.T) {
		created, err := commits.CreateBatch(ctx, fork.CloneURL, batch[:1])
		require.NoError(t, err)
		assert.Equal(t, 0, created)

		known, err := commits.GetSHAsByRepository(ctx, fork.CloneURL)
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"a1": {}}, known)

		count, err := commits.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Stored values round trip", func(t *testing.T) {
		stored, err := commits.GetBySHA(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "dev@example.com", stored.AuthorEmail)
		assert.Equal(t, -5*3600, stored.CreationTimeOffset)
		assert.Equal(t, 9, stored.LocalCreationTime().Hour())
		require.NotNil(t, stored.Additions)
		assert.Equal(t, 10, *stored.Additions)

		stored, err = commits.GetBySHA(ctx, "b2")
		require.NoError(t, err)
		assert.Nil(t, stored.Additions)
	})

	t.Run("Oldest commit", func(t *testing.T) {
		oldest, err := commits.GetOldestByRepository(ctx, upstream.CloneURL)
		require.NoError(t, err)
		assert.Equal(t, "b2", oldest.SHA)
	})

	t.Run("Commits by contributor", func(t *testing.T) {
		contributors := NewContributorRepository(db)
		require.NoError(t, contributors.Create(ctx, models.NewContributor("dev")))
		require.NoError(t, emails.LinkContributor(ctx, "dev@example.com", "dev"))

		list, err := commits.ListByContributor(ctx, "dev")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b2", list[0].Commit.SHA)
		assert.Equal(t, upstream.CloneURL, list[0].Repository)
	})
}

func TestEmailRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	emails := NewEmailRepository(db)
	contributors := NewContributorRepository(db)

	for _, address := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		require.NoError(t, emails.Create(ctx, models.NewEmail(address)))
	}
	require.NoError(t, contributors.Create(ctx, models.NewContributor("bee")))

	t.Run("Bulk lookup returns only existing addresses", func(t *testing.T) {
		found, err := emails.GetByAddresses(ctx, []string{"a@example.com", "c@example.com", "z@example.com"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Contains(t, found, "a@example.com")
		assert.NotContains(t, found, "z@example.com")
	})

	t.Run("Linked emails are never marked unknown", func(t *testing.T) {
		require.NoError(t, emails.LinkContributor(ctx, "b@example.com", "bee"))
		require.NoError(t, emails.MarkUnknown(ctx, "b@example.com"))

		e, err := emails.GetByAddress(ctx, "b@example.com")
		require.NoError(t, err)
		assert.False(t, e.Unknown)
		require.NotNil(t, e.ContributorLogin)
		assert.Equal(t, "bee", *e.ContributorLogin)
	})

	t.Run("Unknown flag", func(t *testing.T) {
		require.NoError(t, emails.MarkUnknown(ctx, "c@example.com"))
		e, err := emails.GetByAddress(ctx, "c@example.com")
		require.NoError(t, err)
		assert.True(t, e.Unknown)
		assert.False(t, e.NeedsLookup())
	})

	t.Run("Duplicate create is a unique violation", func(t *testing.T) {
		err := emails.Create(ctx, models.NewEmail("a@example.com"))
		assert.True(t, IsUniqueViolation(err))
	})
}

func TestContributorAndOrganizationRepositories(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	contributors := NewContributorRepository(db)
	organizations := NewOrganizationRepository(db)
	repos := NewRepositoryRepository(db)

	require.NoError(t, contributors.Create(ctx, models.NewContributor("alice")))
	require.NoError(t, organizations.Create(ctx, models.NewOrganization("acme", "https://github.com/acme")))
	repo := createRepository(t, repos, "https://github.com/acme/app.git", "acme/app")

	require.NoError(t, contributors.AddOrganization(ctx, "alice", "acme"))
	require.NoError(t, contributors.AddOrganization(ctx, "alice", "acme"))
	require.NoError(t, contributors.AddRepository(ctx, "alice", repo.CloneURL))
	require.NoError(t, contributors.AddRepository(ctx, "alice", repo.CloneURL))

	members, err := organizations.ListMemberLogins(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	urls, err := contributors.ListRepositoryURLs(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{repo.CloneURL}, urls)

	location := "Berlin"
	scanned := time.Now().UTC().Truncate(time.Second)
	alice, err := contributors.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	alice.Location = &location
	alice.LastFullScan = &scanned
	require.NoError(t, contributors.Update(ctx, alice))

	stored, err := contributors.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.Location)
	assert.Equal(t, "Berlin", *stored.Location)
	require.NotNil(t, stored.LastFullScan)
	assert.True(t, scanned.Equal(*stored.LastFullScan))

	_, err = organizations.GetByLogin(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
