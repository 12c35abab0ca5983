package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/internal/services"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

// handleRepository refreshes a repository from the API, resolves its fork
// parent and scans its history when it is due.
func (d *Dispatcher) handleRepository(ctx context.Context, p RepositoryPayload) (string, []*Task, error) {
	log := logger.WithField("repository", p.FullName)

	gh, err := d.deps.Client.GetRepository(ctx, p.FullName)
	if err != nil {
		if services.IsNotFound(err) {
			return d.markBroken(ctx, p.FullName)
		}
		return "", nil, err
	}

	repo, err := d.deps.Resolver.RepositoryFromGitHub(ctx, gh)
	if err != nil {
		return "", nil, err
	}

	var discovered []*Task
	if parentName := gh.GetParent().GetFullName(); gh.GetFork() && parentName != "" {
		parent, propose, err := d.deps.Resolver.ResolveFork(ctx, repo, parentName)
		switch {
		case err != nil:
			log.WithError(err).Warn("Failed to resolve fork parent")
		case propose:
			discovered = append(discovered, NewRepositoryTask(parent.FullName, false))
		}
	}

	if gh.GetForksCount() > 0 {
		d.linkForks(ctx, repo, log)
	}

	if !d.due(repo, p.Force) {
		return fmt.Sprintf("skipped %s", p.FullName), discovered, nil
	}

	if d.deps.Scan.MaxRepositorySizeKB > 0 && gh.GetSize() > d.deps.Scan.MaxRepositorySizeKB {
		if err := d.deps.Repositories.MarkTooBig(ctx, repo.CloneURL); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s is too big (%d KB)", p.FullName, gh.GetSize()), discovered, nil
	}

	message, err := d.scan(ctx, repo)
	if err != nil {
		return "", nil, err
	}
	return message, discovered, nil
}

// due reports whether repo should be scanned. Force ignores the rescan
// interval but not the broken, too big and fork flags.
func (d *Dispatcher) due(repo *models.Repository, force bool) bool {
	if force {
		return repo.ShouldScan(d.now(), 0)
	}
	return d.deps.Resolver.ShouldScanRepository(repo)
}

func (d *Dispatcher) scan(ctx context.Context, repo *models.Repository) (string, error) {
	clone, err := d.deps.Cloner.Clone(ctx, repo)
	if err != nil {
		if errors.Is(err, services.ErrEmptyRepository) {
			if err := d.deps.Repositories.MarkScanned(ctx, repo.CloneURL, nil, d.now()); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is empty", repo.FullName), nil
		}
		return "", err
	}
	defer clone.Cleanup()

	result, err := d.deps.Scanner.Scan(ctx, clone.Repository, repo)
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", repo.FullName, err)
	}
	d.logRateLimit(ctx, logger.WithField("repository", repo.FullName))
	if result.TooBig {
		return fmt.Sprintf("%s has too many commits", repo.FullName), nil
	}
	return fmt.Sprintf("scanned %s: %d new commits", repo.FullName, result.Persisted), nil
}

// logRateLimit reports the remaining API quota; failures are only warned about
func (d *Dispatcher) logRateLimit(ctx context.Context, log *logrus.Entry) {
	rate, err := d.deps.Client.RateLimit(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch rate limit")
		return
	}
	log.WithFields(logrus.Fields{
		"remaining": rate.Remaining,
		"limit":     rate.Limit,
		"reset":     rate.Reset.Time,
	}).Info("API rate limit")
}

// markBroken flags a repository that disappeared or became unavailable
func (d *Dispatcher) markBroken(ctx context.Context, fullName string) (string, []*Task, error) {
	repo, err := d.deps.Repositories.GetByFullName(ctx, fullName)
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Sprintf("%s not found", fullName), nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if err := d.deps.Repositories.MarkBroken(ctx, repo.CloneURL); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s is gone, marked broken", fullName), nil, nil
}

// linkForks marks the same-named forks of repo so they are never scanned on their own
func (d *Dispatcher) linkForks(ctx context.Context, repo *models.Repository, log *logrus.Entry) {
	forks, err := d.deps.Client.ListForks(ctx, repo.FullName)
	if err == nil {
		err = d.deps.Resolver.LinkForks(ctx, repo, forks)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to link forks")
	}
}

// repositoryTasks upserts API repositories and returns a task for every one that is due
func (d *Dispatcher) repositoryTasks(ctx context.Context, repos []*github.Repository) ([]*Task, []*models.Repository, error) {
	var discovered []*Task
	records := make([]*models.Repository, 0, len(repos))
	for _, gh := range repos {
		repo, err := d.deps.Resolver.RepositoryFromGitHub(ctx, gh)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, repo)
		if d.deps.Resolver.ShouldScanRepository(repo) {
			discovered = append(discovered, NewRepositoryTask(repo.FullName, false))
		}
	}
	return discovered, records, nil
}
