package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/alimgiray/gitalizer/internal/services"
)

func (d *Dispatcher) handleOrganization(ctx context.Context, p OrganizationPayload) (string, []*Task, error) {
	org, err := d.deps.Client.GetOrganization(ctx, p.Login)
	if err != nil {
		if services.IsNotFound(err) {
			return fmt.Sprintf("organization %s not found", p.Login), nil, nil
		}
		return "", nil, err
	}
	login := org.GetLogin()
	if _, err := d.deps.Resolver.GetOrCreateOrganization(ctx, login, organizationURL(org)); err != nil {
		return "", nil, err
	}

	members, err := d.deps.Client.ListOrganizationMembers(ctx, login)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list members of %s: %w", login, err)
	}

	discovered := make([]*Task, 0, len(members))
	for _, member := range members {
		if _, err := d.deps.Resolver.GetOrCreateContributor(ctx, member); err != nil {
			return "", nil, err
		}
		if err := d.deps.Contributors.AddOrganization(ctx, member, login); err != nil {
			return "", nil, err
		}
		discovered = append(discovered, NewContributorTask(member, false))
	}
	return fmt.Sprintf("%s: %d members", login, len(members)), discovered, nil
}

// handleFollowers proposes the user, its followers and the users it follows
func (d *Dispatcher) handleFollowers(ctx context.Context, p FollowersPayload) (string, []*Task, error) {
	followers, err := d.deps.Client.ListFollowers(ctx, p.Login)
	if err != nil {
		if services.IsNotFound(err) {
			return fmt.Sprintf("user %s not found", p.Login), nil, nil
		}
		return "", nil, err
	}
	following, err := d.deps.Client.ListFollowing(ctx, p.Login)
	if err != nil {
		return "", nil, err
	}

	seen := make(map[string]struct{})
	var discovered []*Task
	for _, login := range append(append([]string{p.Login}, followers...), following...) {
		key := strings.ToLower(login)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		discovered = append(discovered, NewContributorTask(login, false))
	}
	return fmt.Sprintf("%s: %d followers, %d following", p.Login, len(followers), len(following)), discovered, nil
}

// handleMembership records the organizations a contributor belongs to
func (d *Dispatcher) handleMembership(ctx context.Context, p MembershipPayload) (string, error) {
	orgs, err := d.deps.Client.ListUserOrganizations(ctx, p.Login)
	if err != nil {
		if services.IsNotFound(err) {
			return fmt.Sprintf("user %s not found", p.Login), nil
		}
		return "", err
	}
	if _, err := d.deps.Resolver.GetOrCreateContributor(ctx, p.Login); err != nil {
		return "", err
	}
	for _, org := range orgs {
		if _, err := d.deps.Resolver.GetOrCreateOrganization(ctx, org.GetLogin(), organizationURL(org)); err != nil {
			return "", err
		}
		if err := d.deps.Contributors.AddOrganization(ctx, p.Login, org.GetLogin()); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s: %d organizations", p.Login, len(orgs)), nil
}

func organizationURL(org *github.Organization) string {
	if url := org.GetHTMLURL(); url != "" {
		return url
	}
	return org.GetURL()
}
