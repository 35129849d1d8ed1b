// Package scheduler implements the Endpoint Scheduler spec.md §4.3
// describes: a pool of Endpoints from which one job at a time is handed the
// least-loaded selectable member, plus the per-job run sequencing (ledger
// rows, concurrent container-run/log-receiver rendezvous, atomic job
// insert). Grounded on original_source/src/endpoint/scheduler.rs, translated
// from tokio mpsc/select into Go goroutines and channels, using
// logger.Log for structured logging and context.Context for cancellation.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/endpoint"
	"github.com/primeos-work/butido/internal/filestore"
	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/store"
)

// RunnableJob is the fully-resolved unit of work a task submits to the
// scheduler: a job definition plus its rendered script and resolved source
// and dependency-artifact inputs (spec.md §4.4 step 4).
type RunnableJob struct {
	Definition models.JobDefinition
	SubmitID   models.SubmitID
	Script     string
	SourcePath string
	InputPaths []string
	StagingDir string
}

// Result is what a completed job yields to its orchestrator task.
type Result struct {
	Job       models.Job
	Artifacts []models.Artifact
}

// Bar is the per-job progress sink a scheduled run drives; satisfied by the
// progress package's spinner and by buildlog.NoOpBar in headless mode.
type Bar = buildlog.Bar

// Scheduler owns a fixed pool of Endpoints and hands out the least-loaded
// one selectable at the time of each request.
type Scheduler struct {
	endpoints []endpoint.Endpoint
	ledger    *store.Ledger
	staging   *filestore.Store
	log       logger.Log
	clk       clockSleeper

	retryBackoff time.Duration
}

// clockSleeper is the minimal time-based behavior the retry loop needs,
// narrowed so it can be faked in tests without pulling in a full clock
// abstraction for one sleep call.
type clockSleeper interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// New builds a Scheduler over endpoints, in declaration order (selection
// ties are broken by this order, per spec.md §8 invariant 8).
func New(endpoints []endpoint.Endpoint, ledger *store.Ledger, staging *filestore.Store, logFactory logger.LogFactory) *Scheduler {
	if len(endpoints) == 0 {
		panic("error scheduler requires at least one endpoint")
	}
	return &Scheduler{
		endpoints:    endpoints,
		ledger:       ledger,
		staging:      staging,
		log:          logFactory("Scheduler"),
		clk:          realClock{},
		retryBackoff: time.Second,
	}
}

// endpointLoad pairs an endpoint with its most recently observed load.
type endpointLoad struct {
	index int
	ep    endpoint.Endpoint
	load  int
	err   error
}

// selectEndpoint polls every endpoint's load concurrently and returns the
// one with the smallest count, ties broken by declaration order (spec.md
// §4.3's selection policy, invariant 8, scenario S6). If every endpoint
// fails to report, it backs off and retries indefinitely: a liveness, not a
// correctness, concern.
func (s *Scheduler) selectEndpoint(ctx context.Context) (endpoint.Endpoint, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		results := make([]endpointLoad, len(s.endpoints))
		var wg sync.WaitGroup
		for i, ep := range s.endpoints {
			wg.Add(1)
			go func(i int, ep endpoint.Endpoint) {
				defer wg.Done()
				load, err := ep.Load(ctx)
				results[i] = endpointLoad{index: i, ep: ep, load: load, err: err}
			}(i, ep)
		}
		wg.Wait()

		var reachable []endpointLoad
		for _, r := range results {
			if r.err != nil {
				s.log.Warnf("endpoint %q failed to report load: %v", r.ep.Name(), r.err)
				continue
			}
			reachable = append(reachable, r)
		}
		if len(reachable) > 0 {
			sort.SliceStable(reachable, func(i, j int) bool {
				if reachable[i].load != reachable[j].load {
					return reachable[i].load < reachable[j].load
				}
				return reachable[i].index < reachable[j].index
			})
			return reachable[0].ep, nil
		}

		s.log.Warnf("all endpoints failed to report load; retrying in %s", s.retryBackoff)
		s.clk.Sleep(s.retryBackoff)
	}
}

// ScheduleJob blocks until an endpoint is selectable, then runs job to
// completion on it.
func (s *Scheduler) ScheduleJob(ctx context.Context, job RunnableJob, bar Bar) (Result, error) {
	ep, err := s.selectEndpoint(ctx)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, ep, job, bar)
}

func (s *Scheduler) run(ctx context.Context, ep endpoint.Endpoint, job RunnableJob, bar Bar) (Result, error) {
	if err := s.ledger.EnsureEndpoint(ctx, nil, ep.Name()); err != nil {
		return Result{}, err
	}
	if err := s.ledger.EnsurePackage(ctx, nil, job.Definition.Package.Name, job.Definition.Package.Version); err != nil {
		return Result{}, err
	}
	if err := s.ledger.EnsureImage(ctx, nil, job.Definition.Image); err != nil {
		return Result{}, err
	}

	req := endpoint.RunRequest{
		JobID:         job.Definition.ID,
		ContainerName: fmt.Sprintf("butido-%s", job.Definition.ID.String()),
		Image:         job.Definition.Image,
		PullStrategy:  models.DockerPullStrategyDefault,
		Script:        job.Script,
		Env:           job.Definition.Env,
		SourcePath:    job.SourcePath,
		InputPaths:    job.InputPaths,
		StagingDir:    job.StagingDir,
	}

	logItems, awaitOutcome := ep.RunJob(ctx, req)

	receiver := buildlog.NewReceiver(nil, "")
	var logResult buildlog.Result
	var drainErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logResult, drainErr = receiver.Drain(job.Definition.ID, logItems, bar)
	}()

	outcome, runErr := awaitOutcome()
	wg.Wait()
	if drainErr != nil {
		return Result{}, drainErr
	}
	if runErr != nil {
		return Result{}, gerror.WrapErrContainerRun(fmt.Sprintf("error running job %s", job.Definition.ID), runErr)
	}

	success := logResult.Success != nil && *logResult.Success

	jobRow := models.Job{
		ID:             job.Definition.ID,
		SubmitID:       job.SubmitID,
		Endpoint:       ep.Name(),
		PackageName:    job.Definition.Package.Name,
		PackageVersion: job.Definition.Package.Version,
		Image:          job.Definition.Image,
		ContainerHash:  outcome.ContainerHash,
		ScriptText:     job.Script,
		LogText:        logResult.Log,
		Env:            job.Definition.Env,
		Success:        success,
	}

	// outcome.ArtifactPaths are relative to job.StagingDir, the per-job
	// scratch directory the container wrote into; the ledger and the
	// shared staging store both key artifacts by a path relative to the
	// store root, so the job's scratch dir must be rebased onto it (it is
	// always a descendant of the store root, per the orchestrator's
	// staging-dir layout).
	storageRel := ""
	if s.staging != nil {
		if rel, relErr := filepath.Rel(string(s.staging.Root()), job.StagingDir); relErr == nil {
			storageRel = rel
		} else {
			s.log.Warnf("error rebasing staging dir %q onto store root: %v", job.StagingDir, relErr)
		}
	}

	artifacts := make([]models.Artifact, 0, len(outcome.ArtifactPaths))
	for _, path := range outcome.ArtifactPaths {
		recorded := path
		if storageRel != "" && storageRel != "." {
			recorded = filepath.Join(storageRel, path)
		}
		artifact := models.Artifact{ID: models.NewArtifactID(), JobID: job.Definition.ID, Path: recorded}
		artifacts = append(artifacts, artifact)
		if s.staging != nil {
			storePath, err := filestore.NewArtifactPath(recorded)
			if err != nil {
				s.log.Warnf("skipping invalid artifact path %q: %v", recorded, err)
				continue
			}
			if err := s.staging.Add(storePath); err != nil {
				s.log.Warnf("error indexing artifact %q in staging store: %v", recorded, err)
			}
		}
	}

	if err := s.ledger.CreateJob(ctx, nil, jobRow, artifacts); err != nil {
		return Result{}, err
	}

	if !success {
		return Result{Job: jobRow, Artifacts: artifacts}, gerror.WrapErrContainerRun(
			fmt.Sprintf("job %s failed", job.Definition.ID), fmt.Errorf("container reported failure"))
	}
	return Result{Job: jobRow, Artifacts: artifacts}, nil
}
