package main

import (
	"database/sql"

	"go.uber.org/dig"

	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/internal/services"
	"github.com/alimgiray/gitalizer/internal/tasks"
	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/database"
)

// buildContainer registers every provider. The database is only opened
// when a command asks for something that needs it.
func (a *app) buildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		func() *config.Config { return a.cfg },
		func(cfg *config.Config) (*sql.DB, error) {
			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return nil, err
			}
			a.db = db
			return db, nil
		},
		repositories.NewRepositoryRepository,
		repositories.NewCommitRepository,
		repositories.NewEmailRepository,
		repositories.NewContributorRepository,
		repositories.NewOrganizationRepository,
		func(cfg *config.Config) (*services.GitHubClient, error) {
			return services.NewGitHubClient(cfg.GitHub)
		},
		func(
			emails *repositories.EmailRepository,
			contributors *repositories.ContributorRepository,
			organizations *repositories.OrganizationRepository,
			repos *repositories.RepositoryRepository,
			client *services.GitHubClient,
			cfg *config.Config,
		) *services.EntityResolver {
			return services.NewEntityResolver(emails, contributors, organizations, repos, client, cfg.Scan)
		},
		func(
			commits *repositories.CommitRepository,
			repos *repositories.RepositoryRepository,
			resolver *services.EntityResolver,
			cfg *config.Config,
		) *services.CommitScanner {
			return services.NewCommitScanner(commits, repos, resolver, cfg.Scan)
		},
		func(cfg *config.Config) *services.CloneService {
			return services.NewCloneService(cfg.Clone, cfg.GitHub.Token)
		},
		services.NewExportService,
		newDispatcher,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

type dispatcherParams struct {
	dig.In

	Client       *services.GitHubClient
	Resolver     *services.EntityResolver
	Scanner      *services.CommitScanner
	Cloner       *services.CloneService
	Repositories *repositories.RepositoryRepository
	Contributors *repositories.ContributorRepository
	Config       *config.Config
}

func newDispatcher(p dispatcherParams) *tasks.Dispatcher {
	return tasks.NewDispatcher(tasks.Deps{
		Client:       p.Client,
		Resolver:     p.Resolver,
		Scanner:      p.Scanner,
		Cloner:       p.Cloner,
		Repositories: p.Repositories,
		Contributors: p.Contributors,
		Scan:         p.Config.Scan,
	})
}
