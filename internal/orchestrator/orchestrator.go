// Package orchestrator turns a Job Graph into a set of cooperating tasks,
// one goroutine per node, exactly as spec.md §4.4 and
// original_source/src/orchestrator/orchestrator.rs describe: each task
// waits on its inbox for a result from every direct dependency, forwards
// an already-accumulated error list upward unchanged on any dependency
// failure, otherwise renders its script, consults the artifact-reuse
// query, and either substitutes a cached artifact or schedules a fresh
// container run, before forwarding its own artifacts plus everything its
// dependencies produced to its parent's inbox. Translated from the
// original's tokio mpsc channels into buffered Go channels, one per node,
// and from its per-subtree FuturesUnordered join into a plain
// sync.WaitGroup.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/filestore"
	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/graph"
	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/progress"
	"github.com/primeos-work/butido/internal/reuse"
	"github.com/primeos-work/butido/internal/scheduler"
	"github.com/primeos-work/butido/internal/script"
	"github.com/primeos-work/butido/internal/sourcecache"
	"github.com/primeos-work/butido/internal/store"
)

// minInboxCapacity is the default buffer size for a node's inbox, large
// enough that no real job graph is expected to exceed it in in-degree
// (spec.md §4.4 calls 100 "a sufficient default").
const minInboxCapacity = 100

// NodeError pairs a job graph node with the error its task (or one of its
// dependencies) reported.
type NodeError struct {
	NodeID models.JobID
	Err    error
}

// Result is what a completed orchestration run yields: either a list of
// produced artifact paths, or a non-empty list of node errors, never both.
type Result struct {
	Artifacts []string
	Errors    []NodeError
}

// Config bundles an Orchestrator's collaborators: everything a task needs
// to render a script, check for a reusable artifact, and schedule a
// container run.
type Config struct {
	Script       script.Config
	SourceCache  *sourcecache.Cache
	Reuse        *reuse.Query
	Scheduler    *scheduler.Scheduler
	Staging      *filestore.Store
	StagingRoot  string
	Progress     progress.Manager
	Ledger       *store.Ledger
	LogFactory   logger.LogFactory
	ScriptFilter bool

	// SkipVerification disables the source-hash verification pass that
	// otherwise runs once, before any task starts (the CLI's
	// no_verification flag, spec.md §6).
	SkipVerification bool
}

// Orchestrator runs one Job Graph to completion per Run call.
type Orchestrator struct {
	cfg Config
	log logger.Log
}

func New(cfg Config) *Orchestrator {
	if cfg.Progress == nil {
		cfg.Progress = progress.NewHeadlessManager()
	}
	if cfg.LogFactory == nil {
		cfg.LogFactory = logger.NoOpLogFactory
	}
	return &Orchestrator{cfg: cfg, log: cfg.LogFactory("Orchestrator")}
}

// message is what one node's task sends to its outbox: either a success
// (full filesystem paths: the node's own artifacts followed by every
// artifact its dependencies forwarded) or an already-accumulated error list.
type message struct {
	nodeID    models.JobID
	ok        bool
	artifacts []string
	errs      []NodeError
}

// Run verifies every package's source in the closure, writes the submit
// row, then wires and runs one task per graph node, returning once the
// root task reports.
func (o *Orchestrator) Run(ctx context.Context, g *graph.Graph, submit models.Submit) (Result, error) {
	if err := verifySources(g, o.cfg.SourceCache, o.cfg.SkipVerification); err != nil {
		return Result{}, err
	}
	if err := o.cfg.Ledger.CreateSubmit(ctx, nil, submit); err != nil {
		return Result{}, err
	}

	inboxes := make(map[models.JobID]chan message, g.Len())
	for id, node := range g.Nodes {
		capacity := len(node.Dependencies)
		if capacity < minInboxCapacity {
			capacity = minInboxCapacity
		}
		inboxes[id] = make(chan message, capacity)
	}
	rootCh := make(chan message, 1)

	o.cfg.Progress.Start()
	defer o.cfg.Progress.Stop()

	r := &run{o: o, g: g, submitID: submit.ID, inboxes: inboxes}

	var wg sync.WaitGroup
	for id := range g.Nodes {
		outbox := rootCh
		if parent, ok := g.Parent(id); ok {
			outbox = inboxes[parent]
		}
		wg.Add(1)
		go func(id models.JobID, outbox chan<- message) {
			defer wg.Done()
			r.task(ctx, id, outbox)
		}(id, outbox)
	}

	select {
	case <-ctx.Done():
		wg.Wait()
		return Result{}, gerror.NewErrRootAbandoned(fmt.Sprintf("orchestration cancelled: %v", ctx.Err()))
	case msg, ok := <-rootCh:
		wg.Wait()
		if !ok {
			return Result{}, gerror.NewErrRootAbandoned("root channel closed before any result arrived")
		}
		if msg.ok {
			return Result{Artifacts: msg.artifacts}, nil
		}
		return Result{Errors: msg.errs}, nil
	}
}

// verifySources checks every package in the closure's source cache entry
// before any task starts, per spec.md scenario S5: a missing source or
// hash mismatch anywhere in the graph means orchestration never starts
// and no Job rows are ever inserted. Failures are aggregated so a caller
// sees every bad source in one report, not just the first.
func verifySources(g *graph.Graph, cache *sourcecache.Cache, skip bool) error {
	if skip {
		return nil
	}
	var result *multierror.Error
	for _, node := range g.Nodes {
		entry := cache.EntryFor(node.Package)
		if !entry.Exists() {
			result = multierror.Append(result, gerror.NewErrSourceHashMismatch(
				fmt.Sprintf("source missing for %s %s at %s", node.Package.Name, node.Package.Version, entry.Path())))
			continue
		}
		if _, err := entry.VerifyHash(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// run holds the state scoped to one Orchestrator.Run call: the graph
// being executed and the submit it belongs to.
type run struct {
	o        *Orchestrator
	g        *graph.Graph
	submitID models.SubmitID
	inboxes  map[models.JobID]chan message
}

// task implements the per-node algorithm of spec.md §4.4: collect one
// result per direct dependency, forward an error list unchanged on any
// failure, otherwise run (or reuse) the job and forward its artifacts
// plus everything its dependencies produced.
func (r *run) task(ctx context.Context, id models.JobID, outbox chan<- message) {
	job, _ := r.g.Node(id)
	bar := r.o.cfg.Progress.NewBar(taskLabel(job))

	inbox := r.inboxes[id]
	var depArtifacts []string
	var errs []NodeError

	for i := 0; i < len(job.Dependencies); i++ {
		select {
		case <-ctx.Done():
			bar.Complete(boolPtr(false))
			outbox <- message{nodeID: id, errs: []NodeError{{
				NodeID: id,
				Err:    gerror.NewErrDependenciesAbandoned(fmt.Sprintf("job %s abandoned waiting on dependencies: %v", id, ctx.Err())),
			}}}
			return
		case msg := <-inbox:
			if msg.ok {
				depArtifacts = append(depArtifacts, msg.artifacts...)
			} else {
				errs = append(errs, msg.errs...)
			}
		}
	}

	if len(errs) > 0 {
		bar.SetMessage("skipped, dependency failed")
		bar.Complete(boolPtr(false))
		outbox <- message{nodeID: id, errs: errs}
		return
	}

	own, err := r.runJob(ctx, job, depArtifacts, bar)
	if err != nil {
		outbox <- message{nodeID: id, errs: []NodeError{{NodeID: id, Err: err}}}
		return
	}
	outbox <- message{nodeID: id, ok: true, artifacts: append(own, depArtifacts...)}
}

// runJob renders job's script, consults the reuse query, and either
// substitutes a cached artifact or schedules a fresh container run.
func (r *run) runJob(ctx context.Context, job models.JobDefinition, depArtifacts []string, bar buildlog.Bar) ([]string, error) {
	bar.SetMessage("rendering script")
	scriptText, err := script.Render(r.o.cfg.Script, job.Package, job.Env)
	if err != nil {
		bar.Complete(boolPtr(false))
		return nil, err
	}

	bar.SetMessage("checking for a reusable artifact")
	hits, err := r.o.cfg.Reuse.Find(ctx, reuse.Request{
		Package:      job.Package,
		EnvOverlay:   job.Env,
		ScriptText:   scriptText,
		ScriptFilter: r.o.cfg.ScriptFilter,
	})
	if err != nil {
		bar.Complete(boolPtr(false))
		return nil, err
	}
	if len(hits) > 0 {
		own := make([]string, len(hits))
		for i, hit := range hits {
			own[i] = string(hit.Path)
		}
		bar.SetMessage("reused from a prior build")
		bar.Complete(boolPtr(true))
		return own, nil
	}

	entry := r.o.cfg.SourceCache.EntryFor(job.Package)
	stagingDir := filepath.Join(r.o.cfg.StagingRoot, r.submitID.String(), job.ID.String())
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		bar.Complete(boolPtr(false))
		return nil, gerror.WrapErrLogIO(fmt.Sprintf("error creating staging directory %s", stagingDir), err)
	}

	runnable := scheduler.RunnableJob{
		Definition: job,
		SubmitID:   r.submitID,
		Script:     scriptText,
		SourcePath: entry.Path(),
		InputPaths: depArtifacts,
		StagingDir: stagingDir,
	}

	result, err := r.o.cfg.Scheduler.ScheduleJob(ctx, runnable, bar)
	if err != nil {
		return nil, err
	}

	own := make([]string, 0, len(result.Artifacts))
	for _, artifact := range result.Artifacts {
		path, err := filestore.NewArtifactPath(artifact.Path)
		if err != nil {
			r.o.log.Warnf("job %s produced an unresolvable artifact path %q: %v", job.ID, artifact.Path, err)
			continue
		}
		full, err := r.o.cfg.Staging.FullPath(path)
		if err != nil {
			r.o.log.Warnf("job %s artifact %q escapes the staging root: %v", job.ID, artifact.Path, err)
			continue
		}
		own = append(own, string(full))
	}
	return own, nil
}

func taskLabel(job models.JobDefinition) string {
	return fmt.Sprintf("%s-%s", job.Package.Name, job.Package.Version)
}

func boolPtr(b bool) *bool { return &b }
