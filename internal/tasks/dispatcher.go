package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/internal/services"
	"github.com/alimgiray/gitalizer/pkg/config"
)

// Deps holds everything the task handlers need
type Deps struct {
	Client       *services.GitHubClient
	Resolver     *services.EntityResolver
	Scanner      *services.CommitScanner
	Cloner       *services.CloneService
	Repositories *repositories.RepositoryRepository
	Contributors *repositories.ContributorRepository
	Scan         config.ScanConfig
}

// Dispatcher routes tasks to their handlers
type Dispatcher struct {
	deps Deps
	now  func() time.Time
}

func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps, now: time.Now}
}

// Handle runs task and wraps the outcome in a Result
func (d *Dispatcher) Handle(ctx context.Context, task *Task) Result {
	var (
		message    string
		discovered []*Task
		err        error
	)

	switch p := task.Payload.(type) {
	case ContributorPayload:
		message, discovered, err = d.handleContributor(ctx, p)
	case RepositoryPayload:
		message, discovered, err = d.handleRepository(ctx, p)
	case OrganizationPayload:
		message, discovered, err = d.handleOrganization(ctx, p)
	case FollowersPayload:
		message, discovered, err = d.handleFollowers(ctx, p)
	case MembershipPayload:
		message, err = d.handleMembership(ctx, p)
	default:
		err = fmt.Errorf("unsupported task %s", task.Kind)
	}

	if err != nil {
		return Result{Task: task, Message: fmt.Sprintf("%s failed", task), Err: err}
	}
	return Result{Task: task, Message: message, Discovered: discovered}
}
