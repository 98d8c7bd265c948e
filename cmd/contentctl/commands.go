package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/service"
	"github.com/content-store-api/pkg/logger"
)

// env is the per-invocation state shared by subcommands
type env struct {
	cfg      *config.Config
	log      zerolog.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "contentctl",
		Short:         "Maintenance tasks for the content store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if e.logLevel != "" {
				level = e.logLevel
			}
			e.cfg = cfg
			e.log = logger.New(logger.Options{Level: level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(newMigrateCmd(e), newReindexCmd(e), newPublishDueCmd(e))
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.withDB(func(db *database.DB) error {
					return db.RunMigrations()
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.withDB(func(db *database.DB) error {
					return db.MigrateDown()
				})
			},
		},
		&cobra.Command{
			Use:   "goto VERSION",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				return e.withDB(func(db *database.DB) error {
					return db.MigrateToVersion(version)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current and latest schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.withDB(func(db *database.DB) error {
					st, err := db.MigrationStatus()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version=%d latest=%d dirty=%t pending=%t\n",
						st.Version, st.Latest, st.Dirty, st.Pending())
					return nil
				})
			},
		},
	)
	return migrateCmd
}

func newReindexCmd(e *env) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the lexical and semantic index of every live article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers > 0 {
				e.cfg.Search.ReindexWorkers = workers
			}
			return e.withServices(func(ctx context.Context, svc *service.Services) error {
				report, err := svc.Search.Reindex(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated=%d failed=%d degraded=%d duration=%s\n",
					report.Updated, report.Failed, report.Degraded, report.Duration)
				if report.Failed > 0 {
					return fmt.Errorf("%d articles failed to reindex", report.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "override REINDEX_WORKERS")
	return cmd
}

func newPublishDueCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-due",
		Short: "Publish every scheduled article whose time has come",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withServices(func(ctx context.Context, svc *service.Services) error {
				n, err := svc.Scheduler.PublishDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published=%d\n", n)
				return nil
			})
		},
	}
}

func (e *env) withDB(fn func(db *database.DB) error) error {
	db, err := database.New(&e.cfg.Database, e.log)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (e *env) withServices(fn func(ctx context.Context, svc *service.Services) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return e.withDB(func(db *database.DB) error {
		repos := repository.New(db, e.cfg.Search.TextSearchConfig)
		index := search.NewMaintainerFromConfig(e.cfg.Search, e.log)
		return fn(ctx, service.NewServices(repos, index, e.cfg, e.log))
	})
}

func parseVersion(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid migration version %q", s)
	}
	return uint(v), nil
}
