// Package system assembles a running csdb server from its configuration.
package system

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/csdb/internal/api"
	"github.com/mattjoyce/csdb/internal/blob"
	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/dispatch"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/importer"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/log"
	"github.com/mattjoyce/csdb/internal/metrics"
	"github.com/mattjoyce/csdb/internal/migrate"
	"github.com/mattjoyce/csdb/internal/populator"
	"github.com/mattjoyce/csdb/internal/scheduler"
	"github.com/mattjoyce/csdb/internal/storage"
	"github.com/mattjoyce/csdb/internal/webhook"
	"github.com/mattjoyce/csdb/internal/workspace"
)

// LockFilename is the PID lock kept next to the state database.
const LockFilename = "csdb.lock"

// PIDLockPath returns where `system start` keeps its PID lock.
func PIDLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), LockFilename)
}

// System holds every long-lived component of a server.
type System struct {
	Config     *config.Config
	DB         *sql.DB
	Jobs       *job.Store
	Content    *content.Store
	Populators *populator.Registry
	Workspaces workspace.Manager
	Hub        *events.Hub
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Dispatcher *dispatch.Dispatcher
	Scheduler  *scheduler.Scheduler
	API        *api.Server
	Webhooks   *webhook.Server

	logger *slog.Logger
}

// Open builds the components described by cfg. Nothing runs until Run.
func Open(ctx context.Context, cfg *config.Config) (*System, error) {
	logger := log.WithComponent("system")

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database opened", "path", cfg.State.Path)

	s, err := assemble(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func assemble(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*System, error) {
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	logger.Info("blob store opened", "backend", cfg.Blob.Backend)

	contentStore := content.New(db, blobs)
	jobs := job.NewStore(db)

	registry, err := populator.Load(cfg.Populators, populator.NewDeps(contentStore, cfg.Populators), log.WithComponent("populator"))
	if err != nil {
		return nil, fmt.Errorf("load populators: %w", err)
	}
	logger.Info("populator discovery complete", "count", len(registry.All()))

	ws, err := workspace.NewOSManager(cfg.Workspace.Dir)
	if err != nil {
		return nil, fmt.Errorf("initialize workspace manager: %w", err)
	}

	selector, err := importer.NewRuleSelector(cfg.Import)
	if err != nil {
		return nil, fmt.Errorf("schema rules: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	hub := events.NewHub(256)
	metrics.EventDrops(reg, hub.Dropped)

	im := importer.New(importer.Options{
		Store:      contentStore,
		Registry:   registry,
		Workspaces: ws,
		Metrics:    m,
	})
	tasks := map[job.Type]job.Task{
		job.TypeArchiveImport:   importer.NewTask(im, selector),
		job.TypeSchemaMigration: migrate.NewTask(contentStore),
	}

	disp := dispatch.New(jobs, tasks, dispatch.Options{
		NodeName:     cfg.Service.NodeName,
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		Notify:       hub.Publish,
		Handler: job.HandlerOptions{
			CommitEvery:    cfg.Jobs.CommitEvery,
			ErrorDetailMax: cfg.Jobs.ErrorDetailMax,
		},
		Metrics: m,
	})

	sched := scheduler.New(cfg, scheduler.Deps{
		Jobs:       jobs,
		Workspaces: ws,
		Binaries:   contentStore,
		Events:     hub,
		Metrics:    m,
	}, log.WithComponent("scheduler"))

	s := &System{
		Config:     cfg,
		DB:         db,
		Jobs:       jobs,
		Content:    contentStore,
		Populators: registry,
		Workspaces: ws,
		Hub:        hub,
		Registry:   reg,
		Metrics:    m,
		Dispatcher: disp,
		Scheduler:  sched,
		logger:     logger,
	}

	if cfg.API.Enabled {
		s.API = api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, api.Deps{
			Jobs:       jobs,
			Populators: registry,
			Releases:   contentStore,
			Events:     hub,
			Gatherer:   reg,
		}, log.WithComponent("api"))
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		whCfg, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			return nil, fmt.Errorf("configure webhooks: %w", err)
		}
		s.Webhooks = webhook.New(whCfg, jobs, contentStore, log.WithComponent("webhook"))
	}

	return s, nil
}

// Init seeds the content graph with the entities imports need.
func (s *System) Init(ctx context.Context, opts content.SeedOptions) (*content.Seeded, error) {
	if opts.FolderSchema == "" {
		opts.FolderSchema = s.Config.Import.FolderSchema
	}
	seeded, err := s.Content.Seed(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("seed content: %w", err)
	}
	s.logger.Info("content seeded",
		"language", seeded.Language.Tag,
		"release", seeded.Release.Name,
		"root", seeded.Root.ID,
	)
	return seeded, nil
}

// Run performs crash recovery, then runs the dispatcher, the maintenance
// loop and the enabled listeners until ctx is cancelled or one of them fails.
func (s *System) Run(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer s.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Dispatcher.Start(gctx); err != nil {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})
	if s.API != nil {
		g.Go(func() error {
			if err := s.API.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		s.logger.Info("API server enabled", "listen", s.Config.API.Listen)
	}
	if s.Webhooks != nil {
		g.Go(func() error {
			if err := s.Webhooks.Start(gctx); err != nil {
				return fmt.Errorf("webhook: %w", err)
			}
			return nil
		})
		s.logger.Info("webhook server enabled", "listen", s.Config.Webhooks.Listen, "endpoints", len(s.Config.Webhooks.Endpoints))
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the database.
func (s *System) Close() error {
	return s.DB.Close()
}
