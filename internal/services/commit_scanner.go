package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/logger"
	"github.com/alimgiray/gitalizer/pkg/metrics"
)

// ScanResult summarizes one walk over a repository's history
type ScanResult struct {
	Visited   int
	New       int
	Persisted int
	TooBig    bool
	Empty     bool
}

// CommitScanner walks a repository's commit graph breadth-first from HEAD
// and stores every commit the repository does not know yet.
type CommitScanner struct {
	commits  *repositories.CommitRepository
	repos    *repositories.RepositoryRepository
	resolver *EntityResolver
	cfg      config.ScanConfig
	now      func() time.Time
}

func NewCommitScanner(
	commits *repositories.CommitRepository,
	repos *repositories.RepositoryRepository,
	resolver *EntityResolver,
	cfg config.ScanConfig,
) *CommitScanner {
	return &CommitScanner{
		commits:  commits,
		repos:    repos,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Scan walks gitRepo and persists its new commits for repo.
//
// Commits already linked to the repository end the walk along their path
// when the repository was completely scanned before; after an interrupted
// scan their parents are still followed so that the missing ancestors are
// found. If more than the configured number of new commits is found the
// repository is marked too big and nothing is persisted.
func (s *CommitScanner) Scan(ctx context.Context, gitRepo *git.Repository, repo *models.Repository) (*ScanResult, error) {
	log := logger.WithField("repository", repo.CloneURL)

	head, err := gitRepo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			log.Info("Repository has no commits")
			if err := s.finish(ctx, repo); err != nil {
				return nil, err
			}
			return &ScanResult{Empty: true}, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	known, err := s.commits.GetSHAsByRepository(ctx, repo.CloneURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load known commits: %w", err)
	}
	wasComplete := repo.CompletelyScanned

	result := &ScanResult{}
	var pending []*object.Commit
	visited := make(map[plumbing.Hash]struct{})
	queue := []plumbing.Hash{head.Hash()}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := queue[0]
		queue = queue[1:]
		if _, seen := visited[hash]; seen {
			continue
		}
		visited[hash] = struct{}{}
		result.Visited++

		_, isKnown := known[hash.String()]
		if isKnown && wasComplete {
			continue
		}

		commit, err := gitRepo.CommitObject(hash)
		if err != nil {
			log.WithError(err).WithField("sha", hash.String()).Warn("Skipping unreadable commit")
			continue
		}
		queue = append(queue, commit.ParentHashes...)

		if isKnown {
			continue
		}

		if len(pending) >= s.cfg.MaxNewCommits {
			log.WithField("limit", s.cfg.MaxNewCommits).Warn("Repository exceeds the commit limit")
			if err := s.repos.MarkTooBig(ctx, repo.CloneURL); err != nil {
				return nil, err
			}
			repo.TooBig = true
			metrics.RepositoryScans.WithLabelValues("too_big").Inc()
			return &ScanResult{Visited: result.Visited, New: len(pending) + 1, TooBig: true}, nil
		}
		pending = append(pending, commit)
	}
	result.New = len(pending)

	// Addresses already looked up or linked to repo during this scan
	handled := make(map[string]struct{})
	for start := 0; start < len(pending); start += s.cfg.FlushSize {
		end := start + s.cfg.FlushSize
		if end > len(pending) {
			end = len(pending)
		}
		persisted, err := s.persistChunk(ctx, repo, pending[start:end], handled)
		if err != nil {
			return nil, err
		}
		result.Persisted += persisted
		log.WithFields(logrus.Fields{"persisted": result.Persisted, "total": len(pending)}).Debug("Flushed commits")
	}

	if err := s.finish(ctx, repo); err != nil {
		return nil, err
	}
	metrics.RepositoryScans.WithLabelValues("complete").Inc()
	return result, nil
}

// persistChunk resolves every address of a chunk, looks up each unresolved
// address once, associates linked contributors with repo and stores the
// commits with their repository link.
func (s *CommitScanner) persistChunk(ctx context.Context, repo *models.Repository, chunk []*object.Commit, handled map[string]struct{}) (int, error) {
	commits := make([]*models.Commit, 0, len(chunk))
	addressSet := make(map[string]struct{})
	for _, obj := range chunk {
		commit := models.NewCommit(obj.Hash.String(), obj.Author.Email, obj.Committer.Email, obj.Author.When, obj.Committer.When)
		if obj.NumParents() == 1 {
			s.applyStats(ctx, commit, obj)
		}
		commits = append(commits, commit)
		for _, address := range []string{commit.AuthorEmail, commit.CommitterEmail} {
			if address != "" {
				addressSet[address] = struct{}{}
			}
		}
	}

	addresses := make([]string, 0, len(addressSet))
	for address := range addressSet {
		addresses = append(addresses, address)
	}
	emails, err := s.resolver.ResolveEmails(ctx, addresses)
	if err != nil {
		return 0, err
	}

	for _, commit := range commits {
		identities := []struct {
			address string
			role    IdentityRole
		}{
			{commit.AuthorEmail, RoleAuthor},
			{commit.CommitterEmail, RoleCommitter},
		}
		for _, identity := range identities {
			email := emails[identity.address]
			if email == nil {
				continue
			}
			if _, done := handled[identity.address]; done {
				continue
			}
			handled[identity.address] = struct{}{}
			if !email.NeedsLookup() {
				if err := s.resolver.AssociateRepository(ctx, email, repo); err != nil {
					return 0, err
				}
				continue
			}
			if err := s.resolver.ResolveIdentity(ctx, email, repo, commit.SHA, identity.role); err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				logger.WithError(err).WithField("email", identity.address).Warn("Failed to resolve identity")
			}
		}
	}

	created, err := s.commits.CreateBatch(ctx, repo.CloneURL, commits)
	if err != nil {
		return 0, fmt.Errorf("failed to store commits: %w", err)
	}
	metrics.CommitsPersisted.Add(float64(created))
	return len(commits), nil
}

// applyStats sets additions and deletions against the single parent
func (s *CommitScanner) applyStats(ctx context.Context, commit *models.Commit, obj *object.Commit) {
	stats, err := obj.StatsContext(ctx)
	if err != nil {
		logger.WithError(err).WithField("sha", commit.SHA).Warn("Failed to compute diff stats")
		return
	}
	additions, deletions := 0, 0
	for _, file := range stats {
		additions += file.Addition
		deletions += file.Deletion
	}
	commit.SetStats(additions, deletions)
}

// finish marks the repository as completely scanned and backfills its
// creation time from the oldest known commit.
func (s *CommitScanner) finish(ctx context.Context, repo *models.Repository) error {
	var createdAt *time.Time
	if repo.CreatedAt == nil {
		oldest, err := s.commits.GetOldestByRepository(ctx, repo.CloneURL)
		switch {
		case err == nil:
			local := oldest.LocalCreationTime()
			createdAt = &local
		case !errors.Is(err, repositories.ErrNotFound):
			return err
		}
	}

	now := s.now()
	if err := s.repos.MarkScanned(ctx, repo.CloneURL, createdAt, now); err != nil {
		return fmt.Errorf("failed to mark repository scanned: %w", err)
	}
	repo.CompletelyScanned = true
	repo.UpdatedAt = &now
	if repo.CreatedAt == nil {
		repo.CreatedAt = createdAt
	}
	return nil
}
