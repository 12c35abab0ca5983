package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

// getOrCreateAttempts bounds the retries when sibling workers race on the same key
const getOrCreateAttempts = 3

// IdentityRole selects which signature of a commit an email belongs to
type IdentityRole int

const (
	RoleAuthor IdentityRole = iota
	RoleCommitter
)

func (r IdentityRole) String() string {
	if r == RoleCommitter {
		return "committer"
	}
	return "author"
}

// EntityResolver deduplicates contributors, emails, organizations and
// repositories and decides which targets are due for a scan.
type EntityResolver struct {
	emails        *repositories.EmailRepository
	contributors  *repositories.ContributorRepository
	organizations *repositories.OrganizationRepository
	repos         *repositories.RepositoryRepository
	client        *GitHubClient
	scan          config.ScanConfig
	now           func() time.Time
}

// NewEntityResolver creates a resolver. client may be nil, in which case
// identities are never looked up remotely.
func NewEntityResolver(
	emails *repositories.EmailRepository,
	contributors *repositories.ContributorRepository,
	organizations *repositories.OrganizationRepository,
	repos *repositories.RepositoryRepository,
	client *GitHubClient,
	scan config.ScanConfig,
) *EntityResolver {
	return &EntityResolver{
		emails:        emails,
		contributors:  contributors,
		organizations: organizations,
		repos:         repos,
		client:        client,
		scan:          scan,
		now:           time.Now,
	}
}

// getOrCreate reads a row by key and inserts it when missing. Unique
// violations and busy errors from concurrent writers trigger a re-read.
func getOrCreate[T any](ctx context.Context, get func(ctx context.Context) (*T, error), create func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error
	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		existing, err := get(ctx)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			if repositories.IsBusy(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		created, err := create(ctx)
		if err == nil {
			return created, nil
		}
		if !repositories.IsUniqueViolation(err) && !repositories.IsBusy(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("get or create failed after %d attempts: %w", getOrCreateAttempts, lastErr)
}

func (s *EntityResolver) GetOrCreateEmail(ctx context.Context, address string) (*models.Email, error) {
	email := models.NewEmail(address)
	return getOrCreate(ctx,
		func(ctx context.Context) (*models.Email, error) { return s.emails.GetByAddress(ctx, email.Address) },
		func(ctx context.Context) (*models.Email, error) { return email, s.emails.Create(ctx, email) },
	)
}

func (s *EntityResolver) GetOrCreateContributor(ctx context.Context, login string) (*models.Contributor, error) {
	return getOrCreate(ctx,
		func(ctx context.Context) (*models.Contributor, error) { return s.contributors.GetByLogin(ctx, login) },
		func(ctx context.Context) (*models.Contributor, error) {
			contributor := models.NewContributor(login)
			return contributor, s.contributors.Create(ctx, contributor)
		},
	)
}

func (s *EntityResolver) GetOrCreateOrganization(ctx context.Context, login, url string) (*models.Organization, error) {
	return getOrCreate(ctx,
		func(ctx context.Context) (*models.Organization, error) { return s.organizations.GetByLogin(ctx, login) },
		func(ctx context.Context) (*models.Organization, error) {
			org := models.NewOrganization(login, url)
			return org, s.organizations.Create(ctx, org)
		},
	)
}

func (s *EntityResolver) GetOrCreateRepository(ctx context.Context, cloneURL, name, fullName string) (*models.Repository, error) {
	return getOrCreate(ctx,
		func(ctx context.Context) (*models.Repository, error) { return s.repos.GetByCloneURL(ctx, cloneURL) },
		func(ctx context.Context) (*models.Repository, error) {
			repo := models.NewRepository(cloneURL, name, fullName)
			return repo, s.repos.Create(ctx, repo)
		},
	)
}

// RepositoryFromGitHub upserts the record for a repository returned by the API
func (s *EntityResolver) RepositoryFromGitHub(ctx context.Context, gh *github.Repository) (*models.Repository, error) {
	return s.GetOrCreateRepository(ctx, gh.GetCloneURL(), gh.GetName(), gh.GetFullName())
}

// ResolveEmails returns an Email for every address, loading existing rows in
// one query and creating the rest.
func (s *EntityResolver) ResolveEmails(ctx context.Context, addresses []string) (map[string]*models.Email, error) {
	emails, err := s.emails.GetByAddresses(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to load emails: %w", err)
	}
	for _, address := range addresses {
		if _, ok := emails[address]; ok {
			continue
		}
		email, err := s.GetOrCreateEmail(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("failed to create email %s: %w", address, err)
		}
		emails[address] = email
	}
	return emails, nil
}

// ResolveIdentity links an email to the platform login GitHub reports for the
// given commit, or marks the email unknown when GitHub has no login for it.
// Emails that are already linked or unknown are left alone, as is everything
// when there is no API client or the repository has no full name.
func (s *EntityResolver) ResolveIdentity(ctx context.Context, email *models.Email, repo *models.Repository, sha string, role IdentityRole) error {
	if s.client == nil || repo.FullName == "" || !email.NeedsLookup() {
		return nil
	}

	authorLogin, committerLogin, err := s.client.GetCommitIdentities(ctx, repo.FullName, sha)
	if err != nil {
		if IsNotFound(err) {
			// The commit is not visible remotely, so nothing is learned about the email
			logger.WithFields(logrus.Fields{"email": email.Address, "sha": sha}).Debug("Commit not found remotely")
			return nil
		}
		return fmt.Errorf("failed to look up %s of %s: %w", role, sha, err)
	}

	login := authorLogin
	if role == RoleCommitter {
		login = committerLogin
	}

	if login == "" {
		if err := s.emails.MarkUnknown(ctx, email.Address); err != nil {
			return err
		}
		email.Unknown = true
		return nil
	}

	if _, err := s.GetOrCreateContributor(ctx, login); err != nil {
		return err
	}
	if err := s.emails.LinkContributor(ctx, email.Address, login); err != nil {
		return err
	}
	if err := s.contributors.AddRepository(ctx, login, repo.CloneURL); err != nil {
		return err
	}
	email.ContributorLogin = &login
	return nil
}

// AssociateRepository records that the contributor linked to email committed to repo
func (s *EntityResolver) AssociateRepository(ctx context.Context, email *models.Email, repo *models.Repository) error {
	if email.ContributorLogin == nil {
		return nil
	}
	if err := s.contributors.AddRepository(ctx, *email.ContributorLogin, repo.CloneURL); err != nil {
		return fmt.Errorf("failed to associate %s with %s: %w", *email.ContributorLogin, repo.CloneURL, err)
	}
	return nil
}

func (s *EntityResolver) ShouldScanRepository(repo *models.Repository) bool {
	return repo.ShouldScan(s.now(), s.scan.RepositoryRescanInterval)
}

func (s *EntityResolver) ShouldScanContributor(contributor *models.Contributor) bool {
	return contributor.ShouldScan(s.now(), s.scan.ContributorRescanInterval)
}

// ResolveFork fetches the parent of child, records the parent link once and,
// when both share a name, flags child as a fork. The returned flag reports
// whether the parent should be proposed as a new scan target.
func (s *EntityResolver) ResolveFork(ctx context.Context, child *models.Repository, parentFullName string) (*models.Repository, bool, error) {
	if s.client == nil {
		return nil, false, errors.New("no GitHub client configured")
	}

	gh, err := s.client.GetRepository(ctx, parentFullName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch parent %s: %w", parentFullName, err)
	}
	parent, err := s.RepositoryFromGitHub(ctx, gh)
	if err != nil {
		return nil, false, err
	}

	if child.ParentURL == nil {
		set, err := s.repos.SetParent(ctx, child.CloneURL, parent.CloneURL)
		if err != nil {
			return nil, false, err
		}
		if set {
			child.ParentURL = &parent.CloneURL
		}
	}

	// Only same-named forks count as copies of their parent
	if parent.Name != child.Name {
		return parent, false, nil
	}

	if !child.Fork {
		child.Fork = true
		if err := s.repos.Update(ctx, child); err != nil {
			return nil, false, err
		}
	}
	return parent, s.ShouldScanRepository(parent), nil
}

// LinkForks records parent as the parent of every fork returned by the API
func (s *EntityResolver) LinkForks(ctx context.Context, parent *models.Repository, forks []*github.Repository) error {
	for _, gh := range forks {
		fork, err := s.RepositoryFromGitHub(ctx, gh)
		if err != nil {
			return err
		}
		if fork.ParentURL != nil {
			continue
		}
		if _, err := s.repos.SetParent(ctx, fork.CloneURL, parent.CloneURL); err != nil {
			return err
		}
		if fork.Name == parent.Name && !fork.Fork {
			fork.Fork = true
			if err := s.repos.Update(ctx, fork); err != nil {
				return err
			}
		}
	}
	return nil
}
