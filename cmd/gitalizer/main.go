package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/alimgiray/gitalizer/internal/workers"
	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

type app struct {
	configPath string
	logLevel   string

	cfg       *config.Config
	container *dig.Container
	db        *sql.DB
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger.Init(cfg.LogLevel)
	a.cfg = cfg

	container, err := a.buildContainer()
	if err != nil {
		return err
	}
	a.container = container
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// run executes a manager chain and logs the totals
func (a *app) run(ctx context.Context, first *workers.Manager) error {
	summary, err := first.Run(ctx)
	if summary != nil {
		logger.WithField("run_id", summary.RunID).Infof("Processed %d tasks, %d failed", summary.TotalTasks(), summary.TotalFailed())
	}
	return err
}

func buildRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gitalizer",
		Short: "Crawl GitHub contributors and repositories into a commit database",
		Long: `gitalizer walks GitHub users, organizations and repositories, clones the
repositories it discovers and stores every commit with its author, committer,
timestamps and line statistics.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default: ./gitalizer.yaml or ~/.config/gitalizer.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		a.scanCommand(),
		a.maintenanceCommand(),
		a.exportCommand(),
		a.serveCommand(),
		a.dbCommand(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := buildRootCommand(&app{})
	if err := root.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("Command failed")
		stop()
		os.Exit(1)
	}
}
