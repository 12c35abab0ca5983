package tasks

import (
	"fmt"
	"strings"
)

// Kind selects the handler for a task
type Kind int

const (
	KindContributor Kind = iota
	KindRepository
	KindOrganization
	KindFollowers
	KindMembership
)

func (k Kind) String() string {
	switch k {
	case KindContributor:
		return "contributor"
	case KindRepository:
		return "repository"
	case KindOrganization:
		return "organization"
	case KindFollowers:
		return "followers"
	case KindMembership:
		return "membership"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload carries the arguments of one task kind
type Payload interface {
	Target() string
}

type ContributorPayload struct {
	Login string
	// Force scans the contributor even when the last full scan is recent
	Force bool
}

func (p ContributorPayload) Target() string { return p.Login }

type RepositoryPayload struct {
	FullName string
	Force    bool
}

func (p RepositoryPayload) Target() string { return p.FullName }

type OrganizationPayload struct {
	Login string
}

func (p OrganizationPayload) Target() string { return p.Login }

type FollowersPayload struct {
	Login string
}

func (p FollowersPayload) Target() string { return p.Login }

type MembershipPayload struct {
	Login string
}

func (p MembershipPayload) Target() string { return p.Login }

// Task is one unit of work handed to a worker
type Task struct {
	Kind    Kind
	Payload Payload
}

func NewContributorTask(login string, force bool) *Task {
	return &Task{Kind: KindContributor, Payload: ContributorPayload{Login: login, Force: force}}
}

func NewRepositoryTask(fullName string, force bool) *Task {
	return &Task{Kind: KindRepository, Payload: RepositoryPayload{FullName: fullName, Force: force}}
}

func NewOrganizationTask(login string) *Task {
	return &Task{Kind: KindOrganization, Payload: OrganizationPayload{Login: login}}
}

func NewFollowersTask(login string) *Task {
	return &Task{Kind: KindFollowers, Payload: FollowersPayload{Login: login}}
}

func NewMembershipTask(login string) *Task {
	return &Task{Kind: KindMembership, Payload: MembershipPayload{Login: login}}
}

// Key identifies a task for deduplication. Logins and names are case-insensitive.
func (t *Task) Key() string {
	return t.Kind.String() + ":" + strings.ToLower(t.Payload.Target())
}

func (t *Task) String() string {
	return t.Key()
}

// Result is the envelope produced for every processed task
type Result struct {
	Task       *Task
	Message    string
	Err        error
	Discovered []*Task
}

// Failed reports whether the task ended with an error
func (r Result) Failed() bool {
	return r.Err != nil
}
