package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/alimgiray/gitalizer/internal/handlers"
	"github.com/alimgiray/gitalizer/internal/middleware"
	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/internal/services"
	"github.com/alimgiray/gitalizer/internal/tasks"
	"github.com/alimgiray/gitalizer/internal/workers"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func (a *app) manager(name string, size int, d *tasks.Dispatcher) *workers.Manager {
	return workers.NewManager(name, size, d, workers.WithCooldown(a.cfg.Workers.Cooldown))
}

// repositoryChain scans repositories and then their fork parents up to the configured depth
func (a *app) repositoryChain(d *tasks.Dispatcher) []*workers.Manager {
	chain := []*workers.Manager{a.manager("repositories", a.cfg.Workers.CommitScan, d)}
	for depth := 1; depth <= a.cfg.Scan.ForkDepth; depth++ {
		chain = append(chain, a.manager(fmt.Sprintf("fork-parents-%d", depth), a.cfg.Workers.CommitScan, d))
	}
	return chain
}

// contributorChain scans contributors and then the repositories they propose
func (a *app) contributorChain(d *tasks.Dispatcher) []*workers.Manager {
	return append([]*workers.Manager{a.manager("contributors", a.cfg.Workers.UserScan, d)}, a.repositoryChain(d)...)
}

// seedAndRun queues seeds on the first manager of chain and runs it
func (a *app) seedAndRun(ctx context.Context, chain []*workers.Manager, seeds ...*tasks.Task) error {
	first := workers.Chain(chain...)
	if _, err := first.AddTasks(seeds...); err != nil {
		return err
	}
	return a.run(ctx, first)
}

func (a *app) scanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Crawl users, repositories and organizations",
	}

	var withFollowers, forceUser bool
	user := &cobra.Command{
		Use:   "user <login>",
		Short: "Scan a user's repositories, optionally including followers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(d *tasks.Dispatcher) error {
				chain := a.contributorChain(d)
				if withFollowers {
					chain = append([]*workers.Manager{a.manager("followers", a.cfg.Workers.UserScan, d)}, chain...)
					return a.seedAndRun(cmd.Context(), chain, tasks.NewFollowersTask(args[0]))
				}
				return a.seedAndRun(cmd.Context(), chain, tasks.NewContributorTask(args[0], forceUser))
			})
		},
	}
	user.Flags().BoolVar(&withFollowers, "with-followers", false, "Also scan the user's followers and the users they follow")
	user.Flags().BoolVar(&forceUser, "force", false, "Scan even when the last full scan is recent")

	var forceRepository bool
	repository := &cobra.Command{
		Use:   "repository <owner/name>",
		Short: "Scan a single repository and its fork parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := services.SplitFullName(args[0]); err != nil {
				return err
			}
			return a.container.Invoke(func(d *tasks.Dispatcher) error {
				return a.seedAndRun(cmd.Context(), a.repositoryChain(d), tasks.NewRepositoryTask(args[0], forceRepository))
			})
		},
	}
	repository.Flags().BoolVar(&forceRepository, "force", false, "Scan even when the repository was scanned recently")

	var withMembers bool
	organization := &cobra.Command{
		Use:   "organization <login>",
		Short: "Record an organization's members, optionally scanning them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(d *tasks.Dispatcher) error {
				chain := []*workers.Manager{a.manager("organizations", a.cfg.Workers.UserScan, d)}
				if withMembers {
					chain = append(chain, a.contributorChain(d)...)
				}
				return a.seedAndRun(cmd.Context(), chain, tasks.NewOrganizationTask(args[0]))
			})
		},
	}
	organization.Flags().BoolVar(&withMembers, "members", false, "Scan the members' repositories too")

	membership := &cobra.Command{
		Use:   "membership",
		Short: "Record organization memberships of every stored contributor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(d *tasks.Dispatcher, contributors *repositories.ContributorRepository) error {
				all, err := contributors.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				seeds := make([]*tasks.Task, 0, len(all))
				for _, c := range all {
					seeds = append(seeds, tasks.NewMembershipTask(c.Login))
				}
				return a.seedAndRun(cmd.Context(), []*workers.Manager{a.manager("memberships", a.cfg.Workers.UserScan, d)}, seeds...)
			})
		},
	}

	cmd.AddCommand(user, repository, organization, membership)
	return cmd
}

func (a *app) maintenanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Rescan stale data and reset flags",
	}

	complete := &cobra.Command{
		Use:   "complete",
		Short: "Scan every unfinished or stale repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(d *tasks.Dispatcher, repos *repositories.RepositoryRepository, resolver *services.EntityResolver) error {
				candidates, err := repos.ListScanCandidates(cmd.Context())
				if err != nil {
					return err
				}
				var seeds []*tasks.Task
				for _, repo := range candidates {
					if repo.FullName != "" && resolver.ShouldScanRepository(repo) {
						seeds = append(seeds, tasks.NewRepositoryTask(repo.FullName, false))
					}
				}
				logger.Infof("%d of %d repositories are due", len(seeds), len(candidates))
				return a.seedAndRun(cmd.Context(), a.repositoryChain(d), seeds...)
			})
		},
	}

	var all bool
	update := &cobra.Command{
		Use:   "update",
		Short: "Rescan contributors whose last full scan is stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(d *tasks.Dispatcher, contributors *repositories.ContributorRepository, resolver *services.EntityResolver) error {
				stored, err := contributors.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				var seeds []*tasks.Task
				for _, c := range stored {
					if all || resolver.ShouldScanContributor(c) {
						seeds = append(seeds, tasks.NewContributorTask(c.Login, all))
					}
				}
				logger.Infof("%d of %d contributors are due", len(seeds), len(stored))
				return a.seedAndRun(cmd.Context(), a.contributorChain(d), seeds...)
			})
		},
	}
	update.Flags().BoolVar(&all, "all", false, "Rescan every contributor regardless of the last scan")

	reset := &cobra.Command{
		Use:   "reset <owner/name>",
		Short: "Clear the too big and broken flags of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(repos *repositories.RepositoryRepository) error {
				if err := repos.ResetFlags(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, repositories.ErrNotFound) {
						return fmt.Errorf("repository %s is not stored", args[0])
					}
					return err
				}
				logger.WithField("repository", args[0]).Info("Repository flags reset")
				return nil
			})
		},
	}

	cmd.AddCommand(complete, update, reset)
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored data",
	}

	contributor := &cobra.Command{
		Use:   "contributor <login> <file.xlsx>",
		Short: "Write a contributor's commits to a spreadsheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(export *services.ExportService) error {
				file, err := os.Create(args[1])
				if err != nil {
					return err
				}
				written, err := export.ExportContributor(cmd.Context(), args[0], file)
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					os.Remove(args[1])
					return err
				}
				logger.WithField("file", args[1]).Infof("Wrote %d commits", written)
				return nil
			})
		},
	}

	cmd.AddCommand(contributor)
	return cmd
}

type statusParams struct {
	Repositories  *repositories.RepositoryRepository
	Commits       *repositories.CommitRepository
	Emails        *repositories.EmailRepository
	Contributors  *repositories.ContributorRepository
	Organizations *repositories.OrganizationRepository
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, statistics and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.container.Invoke(func(
				repos *repositories.RepositoryRepository,
				commits *repositories.CommitRepository,
				emails *repositories.EmailRepository,
				contributors *repositories.ContributorRepository,
				organizations *repositories.OrganizationRepository,
			) error {
				return a.serve(cmd.Context(), statusParams{repos, commits, emails, contributors, organizations})
			})
		},
	}
}

func (a *app) serve(ctx context.Context, p statusParams) error {
	gin.SetMode(a.cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	handlers.NewStatusHandler(map[string]handlers.Counter{
		"repositories":  p.Repositories,
		"commits":       p.Commits,
		"emails":        p.Emails,
		"contributors":  p.Contributors,
		"organizations": p.Organizations,
	}).Register(router)

	server := &http.Server{
		Addr:    ":" + a.cfg.Server.Port,
		Handler: router,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on :%s", a.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Infof("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *app) dbCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database administration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies the migrations
			return a.container.Invoke(func(db *sql.DB) error {
				logger.WithField("path", a.cfg.Database.Path).Info("Database is up to date")
				return nil
			})
		},
	})
	return cmd
}
