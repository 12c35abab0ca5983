package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/metrics"
)

const perPage = 100

// InvalidFullNameError is returned for repository names that are not owner/name
type InvalidFullNameError struct {
	FullName string
}

func (e *InvalidFullNameError) Error() string {
	return fmt.Sprintf("invalid repository name %q, expected owner/name", e.FullName)
}

// SplitFullName splits owner/name
func SplitFullName(fullName string) (string, string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", &InvalidFullNameError{FullName: fullName}
	}
	return owner, name, nil
}

// IsNotFound reports whether err means the target no longer exists or access
// was revoked (HTTP 404 or 451). Such errors are never retried.
func IsNotFound(err error) bool {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		return code == http.StatusNotFound || code == http.StatusUnavailableForLegalReasons
	}
	return false
}

// GitHubClient wraps every GitHub API call with the retry policy
type GitHubClient struct {
	gh     *github.Client
	policy RetryPolicy
}

// NewGitHubClient creates a client authenticated with the configured token
func NewGitHubClient(cfg config.GitHubConfig) (*GitHubClient, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	return NewGitHubClientWithHTTP(httpClient, cfg)
}

// NewGitHubClientWithHTTP creates a client on top of an existing HTTP client.
// cfg.BaseURL, when set, replaces the public API endpoint.
func NewGitHubClientWithHTTP(httpClient *http.Client, cfg config.GitHubConfig) (*GitHubClient, error) {
	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		gh.BaseURL = u
	}
	return &GitHubClient{gh: gh, policy: NewRetryPolicy(cfg)}, nil
}

// Call runs fn with the client's retry policy
func Call[T any](ctx context.Context, c *GitHubClient, operation string, fn func(ctx context.Context, gh *github.Client) (T, *github.Response, error)) (T, *github.Response, error) {
	var resp *github.Response
	result, err := Retry(ctx, c.policy, operation, c.policy.Classify, func(ctx context.Context) (T, error) {
		res, r, err := fn(ctx, c.gh)
		resp = r
		return res, err
	})

	outcome := "success"
	switch {
	case err == nil:
	case IsNotFound(err):
		outcome = "not_found"
	default:
		var exhausted *ExhaustedRetriesError
		if errors.As(err, &exhausted) {
			outcome = "exhausted"
		} else {
			outcome = "error"
		}
	}
	metrics.APICalls.WithLabelValues(operation, outcome).Inc()

	return result, resp, err
}

// paginate collects every page of a list call, stopping early once limit
// items were collected when limit is positive.
func paginate[T any](ctx context.Context, c *GitHubClient, operation string, limit int, fetch func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]T, *github.Response, error)) ([]T, error) {
	opts := github.ListOptions{PerPage: perPage}
	var all []T
	for {
		page, resp, err := Call(ctx, c, operation, func(ctx context.Context, gh *github.Client) ([]T, *github.Response, error) {
			return fetch(ctx, gh, opts)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetRepository fetches a repository by owner/name
func (c *GitHubClient) GetRepository(ctx context.Context, fullName string) (*github.Repository, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return nil, err
	}
	repo, _, err := Call(ctx, c, "get_repository", func(ctx context.Context, gh *github.Client) (*github.Repository, *github.Response, error) {
		return gh.Repositories.Get(ctx, owner, name)
	})
	return repo, err
}

func (c *GitHubClient) GetUser(ctx context.Context, login string) (*github.User, error) {
	user, _, err := Call(ctx, c, "get_user", func(ctx context.Context, gh *github.Client) (*github.User, *github.Response, error) {
		return gh.Users.Get(ctx, login)
	})
	return user, err
}

func (c *GitHubClient) GetOrganization(ctx context.Context, login string) (*github.Organization, error) {
	org, _, err := Call(ctx, c, "get_organization", func(ctx context.Context, gh *github.Client) (*github.Organization, *github.Response, error) {
		return gh.Organizations.Get(ctx, login)
	})
	return org, err
}

// ListOwnedRepositories lists repositories owned by a user
func (c *GitHubClient) ListOwnedRepositories(ctx context.Context, login string, limit int) ([]*github.Repository, error) {
	return paginate(ctx, c, "list_owned_repositories", limit, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
		return gh.Repositories.List(ctx, login, &github.RepositoryListOptions{Type: "owner", ListOptions: opts})
	})
}

// ListStarredRepositories lists repositories starred by a user
func (c *GitHubClient) ListStarredRepositories(ctx context.Context, login string, limit int) ([]*github.Repository, error) {
	starred, err := paginate(ctx, c, "list_starred", limit, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.StarredRepository, *github.Response, error) {
		return gh.Activity.ListStarred(ctx, login, &github.ActivityListStarredOptions{ListOptions: opts})
	})
	if err != nil {
		return nil, err
	}
	repos := make([]*github.Repository, 0, len(starred))
	for _, star := range starred {
		if star.Repository != nil {
			repos = append(repos, star.Repository)
		}
	}
	return repos, nil
}

// ListContributorLogins lists the logins of a repository's contributors
func (c *GitHubClient) ListContributorLogins(ctx context.Context, fullName string) ([]string, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return nil, err
	}
	contributors, err := paginate(ctx, c, "list_contributors", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.Contributor, *github.Response, error) {
		return gh.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{ListOptions: opts})
	})
	if err != nil {
		return nil, err
	}
	logins := make([]string, 0, len(contributors))
	for _, contributor := range contributors {
		if contributor.GetLogin() != "" {
			logins = append(logins, contributor.GetLogin())
		}
	}
	return logins, nil
}

// ListForks lists the direct forks of a repository
func (c *GitHubClient) ListForks(ctx context.Context, fullName string) ([]*github.Repository, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return nil, err
	}
	return paginate(ctx, c, "list_forks", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
		return gh.Repositories.ListForks(ctx, owner, name, &github.RepositoryListForksOptions{ListOptions: opts})
	})
}

func (c *GitHubClient) ListFollowers(ctx context.Context, login string) ([]string, error) {
	users, err := paginate(ctx, c, "list_followers", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.User, *github.Response, error) {
		return gh.Users.ListFollowers(ctx, login, &opts)
	})
	return userLogins(users), err
}

func (c *GitHubClient) ListFollowing(ctx context.Context, login string) ([]string, error) {
	users, err := paginate(ctx, c, "list_following", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.User, *github.Response, error) {
		return gh.Users.ListFollowing(ctx, login, &opts)
	})
	return userLogins(users), err
}

func (c *GitHubClient) ListOrganizationMembers(ctx context.Context, org string) ([]string, error) {
	users, err := paginate(ctx, c, "list_organization_members", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.User, *github.Response, error) {
		return gh.Organizations.ListMembers(ctx, org, &github.ListMembersOptions{ListOptions: opts})
	})
	return userLogins(users), err
}

func (c *GitHubClient) ListUserOrganizations(ctx context.Context, login string) ([]*github.Organization, error) {
	return paginate(ctx, c, "list_user_organizations", 0, func(ctx context.Context, gh *github.Client, opts github.ListOptions) ([]*github.Organization, *github.Response, error) {
		return gh.Organizations.List(ctx, login, &opts)
	})
}

// GetCommitIdentities returns the platform logins GitHub linked to a commit's
// author and committer. An empty login means the address is not linked.
func (c *GitHubClient) GetCommitIdentities(ctx context.Context, fullName, sha string) (string, string, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return "", "", err
	}
	commit, _, err := Call(ctx, c, "get_commit", func(ctx context.Context, gh *github.Client) (*github.RepositoryCommit, *github.Response, error) {
		return gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
	})
	if err != nil {
		return "", "", err
	}
	return commit.GetAuthor().GetLogin(), commit.GetCommitter().GetLogin(), nil
}

// RateLimit returns the current core rate limit window
func (c *GitHubClient) RateLimit(ctx context.Context) (*github.Rate, error) {
	limits, _, err := Call(ctx, c, "rate_limit", func(ctx context.Context, gh *github.Client) (*github.RateLimits, *github.Response, error) {
		return gh.RateLimit.Get(ctx)
	})
	if err != nil {
		return nil, err
	}
	return limits.GetCore(), nil
}

func userLogins(users []*github.User) []string {
	logins := make([]string, 0, len(users))
	for _, user := range users {
		if user.GetLogin() != "" {
			logins = append(logins, user.GetLogin())
		}
	}
	return logins
}
