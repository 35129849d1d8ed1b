// Package endpoint defines the container-host abstraction spec.md §2/§4.3
// describes: a handle that reports load, answers pings, and runs one job to
// completion. Grounded on runner/runtime's Runtime interface shape, narrowed
// to the operations the scheduler actually needs.
package endpoint

import (
	"context"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/models"
)

// RunRequest is everything an Endpoint needs to execute one job.
type RunRequest struct {
	JobID         models.JobID
	ContainerName string
	Image         models.ImageName
	PullStrategy  models.DockerPullStrategy
	Script        string // rendered, with shebang
	Env           models.EnvSet

	// SourcePath is the host path of the package's source archive, mounted
	// read-only into the container; empty if the package has no source.
	SourcePath string

	// InputPaths are host paths of dependency artifacts, mounted read-only.
	InputPaths []string

	// StagingDir is a host directory the script writes its output
	// artifacts into; every regular file found there after the run becomes
	// one output artifact, named by its path relative to StagingDir.
	StagingDir string
}

// RunOutcome is what a successful (or failed-but-ran) container run
// produced.
type RunOutcome struct {
	ArtifactPaths []string // relative to RunRequest.StagingDir
	ContainerHash string
}

// Endpoint is a handle to one container host.
type Endpoint interface {
	Name() string

	// Ping reports whether the endpoint is currently reachable.
	Ping(ctx context.Context) error

	// Load reports the endpoint's current running-container count.
	Load(ctx context.Context) (int, error)

	// RunJob pulls the image, runs the script to completion, and collects
	// output artifacts. logItems streams LogItem values for the duration of
	// the run and is closed when the run finishes, successfully or not.
	// The returned outcome is only valid once logItems has been fully
	// drained and outcome resolves without error.
	RunJob(ctx context.Context, req RunRequest) (logItems <-chan buildlog.LogItem, outcome func() (RunOutcome, error))
}
