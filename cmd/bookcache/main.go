package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jabook/bookcache/internal/api"
	"github.com/jabook/bookcache/internal/config"
	"github.com/jabook/bookcache/internal/controllers"
	"github.com/jabook/bookcache/internal/models"
	"github.com/jabook/bookcache/internal/scheduler"
	"github.com/jabook/bookcache/internal/services/tracker"
	"github.com/jabook/bookcache/internal/utils"
)

func main() {
	root := &cobra.Command{
		Use:           "bookcache",
		Short:         "Smart search cache for audiobook tracker forums",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), syncCmd(), searchCmd(), cleanupCmd(), reindexCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a subcommand needs
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	db      *models.Database
	cache   *controllers.CacheController
	traceTP *sdktrace.TracerProvider
}

// newApp loads configuration and wires the controllers
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client, err := tracker.NewClient(cfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tracker client: %w", err)
	}
	parser := tracker.NewParser(logger)

	searchCtrl := controllers.NewSearchController(db, logger)
	syncCtrl := controllers.NewSyncController(db, client, parser, searchCtrl, cfg, logger)
	migrationCtrl := controllers.NewMigrationController(db, searchCtrl, logger)
	cacheCtrl := controllers.NewCacheController(db, searchCtrl, syncCtrl, migrationCtrl, logger)

	if err := cacheCtrl.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		cache:   cacheCtrl,
		traceTP: tp,
	}, nil
}

func (a *app) close() {
	a.cache.StopSync()
	a.cache.WaitForSync()
	if err := a.traceTP.Shutdown(context.Background()); err != nil {
		a.logger.WithError(err).Debug("Tracer provider shutdown failed")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache daemon with scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("Starting bookcache")

			sched := scheduler.NewScheduler(a.cache, a.cfg.AutoUpdateInterval, a.logger)
			if err := sched.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			defer sched.Stop()

			server := api.NewServer(a.cfg, a.cache, a.logger)

			serverErrChan := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil {
					serverErrChan <- err
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			a.logger.Info("bookcache is running")

			select {
			case err := <-serverErrChan:
				return fmt.Errorf("server error: %w", err)
			case sig := <-sigChan:
				a.logger.WithField("signal", sig).Info("Received shutdown signal")
				if err := server.Shutdown(context.Background()); err != nil {
					a.logger.WithError(err).Error("Error during server shutdown")
				}
			}

			a.logger.Info("bookcache stopped")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var forumID int
	var forumName string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full forum sync and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if forumID > 0 {
				count, err := a.cache.SyncForum(ctx, forumID, forumName)
				if err != nil {
					return err
				}
				fmt.Printf("Synced %d topics from forum %d\n", count, forumID)
				return nil
			}

			if err := a.cache.StartFullSync(ctx); err != nil {
				return err
			}
			a.cache.WaitForSync()

			status := a.cache.GetCacheStatus()
			fmt.Printf("Cache now holds %d audiobooks\n", status.TotalCachedBooks)
			return nil
		},
	}
	cmd.Flags().IntVar(&forumID, "forum", 0, "sync only this forum ID")
	cmd.Flags().StringVar(&forumName, "forum-name", "", "display name for --forum")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	var category string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			query := strings.Join(args, " ")

			results := a.cache.Search(cmd.Context(), query, limit, category)
			for _, rec := range results {
				fmt.Printf("%s\t%s - %s (%s)\n", rec.TopicID, rec.Author, rec.Title, rec.Size)
			}
			fmt.Printf("%d results\n", len(results))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	return cmd
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Recompute the derived search fields for every cached record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cache.RebuildIndex(); err != nil {
				return err
			}
			status := a.cache.GetCacheStatus()
			fmt.Printf("Reindexed %d audiobooks\n", status.TotalCachedBooks)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale and aged-out cache records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			removed, err := a.cache.CleanupStaleData()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d stale records\n", removed)
			return nil
		},
	}
}
