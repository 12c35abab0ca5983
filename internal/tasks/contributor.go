package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/alimgiray/gitalizer/internal/services"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

// handleContributor collects the repositories a user owns or starred and
// contributed to, and proposes those that are due for a scan.
func (d *Dispatcher) handleContributor(ctx context.Context, p ContributorPayload) (string, []*Task, error) {
	log := logger.WithField("contributor", p.Login)

	user, err := d.deps.Client.GetUser(ctx, p.Login)
	if err != nil {
		if services.IsNotFound(err) {
			return fmt.Sprintf("user %s not found", p.Login), nil, nil
		}
		return "", nil, err
	}
	login := user.GetLogin()

	contributor, err := d.deps.Resolver.GetOrCreateContributor(ctx, login)
	if err != nil {
		return "", nil, err
	}
	if location := user.GetLocation(); location != "" {
		contributor.Location = &location
	}

	if !p.Force && !d.deps.Resolver.ShouldScanContributor(contributor) {
		if err := d.deps.Contributors.Update(ctx, contributor); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("skipped %s", login), nil, nil
	}

	limit := d.deps.Scan.MaxRepositoriesPerUser
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}
	owned, err := d.deps.Client.ListOwnedRepositories(ctx, login, fetchLimit)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list repositories of %s: %w", login, err)
	}
	starred, err := d.deps.Client.ListStarredRepositories(ctx, login, fetchLimit)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list starred repositories of %s: %w", login, err)
	}
	if limit > 0 && len(owned)+len(starred) > limit {
		contributor.TooBig = true
		if err := d.deps.Contributors.Update(ctx, contributor); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s has more than %d repositories", login, limit), nil, nil
	}

	candidates := owned
	for _, repo := range starred {
		contributed, err := d.contributedTo(ctx, repo, login)
		if err != nil {
			log.WithError(err).WithField("repository", repo.GetFullName()).Warn("Failed to list contributors")
			continue
		}
		if contributed {
			candidates = append(candidates, repo)
		}
	}

	discovered, records, err := d.repositoryTasks(ctx, candidates)
	if err != nil {
		return "", nil, err
	}
	for _, repo := range records {
		if err := d.deps.Contributors.AddRepository(ctx, login, repo.CloneURL); err != nil {
			return "", nil, err
		}
	}

	now := d.now()
	contributor.LastFullScan = &now
	if err := d.deps.Contributors.Update(ctx, contributor); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s: %d of %d repositories due", login, len(discovered), len(records)), discovered, nil
}

// contributedTo reports whether login is among the contributors of repo
func (d *Dispatcher) contributedTo(ctx context.Context, repo *github.Repository, login string) (bool, error) {
	logins, err := d.deps.Client.ListContributorLogins(ctx, repo.GetFullName())
	if err != nil {
		return false, err
	}
	for _, contributor := range logins {
		if strings.EqualFold(contributor, login) {
			return true, nil
		}
	}
	return false, nil
}
