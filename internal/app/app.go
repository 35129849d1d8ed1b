// Package app wires a validated configuration into a runnable set of
// collaborators: the ledger (migrated and opened), the staging and
// release filestores, the source cache, one Docker endpoint per
// configured host, the scheduler, the reuse query and the orchestrator.
// Grounded on bb/app/{app.go,config.go}'s "App struct + New(ctx, config)"
// shape, without google/wire codegen: this module's
// collaborator graph is small enough to wire by hand, the way
// original_source/src/main.rs assembles its own components directly.
package app

import (
	"context"
	"fmt"

	"github.com/primeos-work/butido/internal/config"
	"github.com/primeos-work/butido/internal/endpoint"
	"github.com/primeos-work/butido/internal/endpoint/docker"
	"github.com/primeos-work/butido/internal/filestore"
	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/orchestrator"
	"github.com/primeos-work/butido/internal/progress"
	"github.com/primeos-work/butido/internal/repository"
	"github.com/primeos-work/butido/internal/reuse"
	"github.com/primeos-work/butido/internal/scheduler"
	"github.com/primeos-work/butido/internal/script"
	"github.com/primeos-work/butido/internal/sourcecache"
	"github.com/primeos-work/butido/internal/store"
	"github.com/primeos-work/butido/internal/store/migrations"
)

// App is every collaborator a command needs, built once from a validated
// Config.
type App struct {
	Config       *config.Config
	LogFactory   logger.LogFactory
	DB           *store.DB
	Ledger       *store.Ledger
	Staging      *filestore.Store
	Releases     []*filestore.Store
	SourceCache  *sourcecache.Cache
	Endpoints    []endpoint.Endpoint
	Scheduler    *scheduler.Scheduler
	Reuse        *reuse.Query
	Repository   repository.Repository
	Orchestrator *orchestrator.Orchestrator
}

// Options carries the CLI-level knobs that sit alongside the validated
// Config but aren't themselves configuration: which database to open,
// which repository to resolve packages against, and whether to run with a
// visible progress UI.
type Options struct {
	DatabaseConfig   store.DatabaseConfig
	Repository       repository.Repository
	Headless         bool
	ScriptFilter     bool
	SkipVerification bool
}

// New opens the ledger (migrating it first), loads the configured
// filestores and source cache, connects to every configured Docker
// endpoint, and wires the scheduler, reuse query and orchestrator on top.
// The returned cleanup closes the database connection.
func New(ctx context.Context, cfg *config.Config, logFactory logger.LogFactory, opts Options) (*App, func(), error) {
	if logFactory == nil {
		logFactory = logger.NoOpLogFactory
	}

	runner := migrations.NewRunner(logFactory)
	db, cleanup, err := store.NewDatabase(ctx, opts.DatabaseConfig, runner.Up)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening ledger database: %w", err)
	}
	ledger := store.NewLedger(db)

	stagingRoot, err := filestore.NewStoreRoot(cfg.StagingDirectory)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	staging, err := filestore.Load(stagingRoot, true)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	releases := make([]*filestore.Store, 0, len(cfg.ReleaseStores))
	for _, dir := range cfg.ReleaseStores {
		root, err := filestore.NewStoreRoot(dir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		releaseStore, err := filestore.Load(root, false)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		releases = append(releases, releaseStore)
	}

	cache := sourcecache.New(cfg.SourceCacheRoot)

	endpoints := make([]endpoint.Endpoint, 0, len(cfg.Docker.Endpoints))
	for _, ep := range cfg.Docker.Endpoints {
		e, err := docker.New(ctx, docker.Config{
			Name:                  ep.Name,
			Host:                  ep.Address,
			RequiredImages:        imageNames(cfg.Docker.Images),
			VerifyImagesPresent:   cfg.Docker.VerifyImagesPresent,
			AllowedDockerVersions: cfg.Docker.DockerVersions,
			AllowedAPIVersions:    cfg.Docker.DockerAPIVersions,
		}, logFactory)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		endpoints = append(endpoints, e)
	}
	if len(endpoints) == 0 {
		cleanup()
		return nil, nil, gerror.NewErrConfigInvalid("docker.endpoints must configure at least one endpoint")
	}

	sched := scheduler.New(endpoints, ledger, staging, logFactory)
	reuseQuery := reuse.NewQuery(db, ledger, staging, releases)

	progressManager := progress.Manager(progress.NewHeadlessManager())
	if !opts.Headless {
		progressManager = progress.NewSpinnerManager()
	}

	orch := orchestrator.New(orchestrator.Config{
		Script: script.Config{
			Shebang:                   cfg.Shebang,
			AvailablePhases:           phaseNames(cfg.AvailablePhases),
			StrictScriptInterpolation: cfg.StrictScriptInterpolation,
		},
		SourceCache:      cache,
		Reuse:            reuseQuery,
		Scheduler:        sched,
		Staging:          staging,
		StagingRoot:      cfg.StagingDirectory,
		Progress:         progressManager,
		Ledger:           ledger,
		LogFactory:       logFactory,
		ScriptFilter:     opts.ScriptFilter,
		SkipVerification: opts.SkipVerification,
	})

	return &App{
		Config:       cfg,
		LogFactory:   logFactory,
		DB:           db,
		Ledger:       ledger,
		Staging:      staging,
		Releases:     releases,
		SourceCache:  cache,
		Endpoints:    endpoints,
		Scheduler:    sched,
		Reuse:        reuseQuery,
		Repository:   opts.Repository,
		Orchestrator: orch,
	}, cleanup, nil
}

func imageNames(in []string) []models.ImageName {
	out := make([]models.ImageName, len(in))
	for i, s := range in {
		out[i] = models.ImageName(s)
	}
	return out
}

func phaseNames(in []string) []models.PhaseName {
	out := make([]models.PhaseName, len(in))
	for i, s := range in {
		out[i] = models.PhaseName(s)
	}
	return out
}
