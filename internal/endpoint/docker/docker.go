// Package docker implements the Endpoint interface against a Docker daemon,
// grounded on runner/runtime/docker/{runtime,container_manager}.go's
// pull-image / create-container / exec / stream-logs sequencing, narrowed to
// what a one-shot build job needs (no services, no per-OS guest path
// mapping: butido containers are always Linux).
package docker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/endpoint"
	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/script"
)

const jobContainerLabel = "butido.job"

// Config describes one configured Docker endpoint (spec.md §6's
// `docker.endpoints` entries).
type Config struct {
	Name                  string
	Host                  string // empty uses the environment's default
	RequiredImages        []models.ImageName
	VerifyImagesPresent   bool
	AllowedDockerVersions []string
	AllowedAPIVersions    []string
}

// Endpoint runs jobs as containers on one Docker daemon.
type Endpoint struct {
	name   string
	client *client.Client
	log    logger.Log
}

// New connects to a Docker daemon and verifies the endpoint-setup
// invariants spec.md §4.3 requires: required images and daemon/API
// versions present, before the endpoint is handed to the scheduler.
func New(ctx context.Context, cfg Config, logFactory logger.LogFactory) (*Endpoint, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, gerror.WrapErrEndpointSetup(fmt.Sprintf("error connecting to docker endpoint %q", cfg.Name), err)
	}

	e := &Endpoint{name: cfg.Name, client: cli, log: logFactory(fmt.Sprintf("DockerEndpoint[%s]", cfg.Name))}
	if err := e.verifySetup(ctx, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Endpoint) verifySetup(ctx context.Context, cfg Config) error {
	info, err := e.client.ServerVersion(ctx)
	if err != nil {
		return gerror.WrapErrEndpointSetup(fmt.Sprintf("error pinging docker endpoint %q", cfg.Name), err)
	}
	if len(cfg.AllowedDockerVersions) > 0 && !contains(cfg.AllowedDockerVersions, info.Version) {
		return gerror.NewErrConfigInvalid(fmt.Sprintf("endpoint %q runs docker %s, not in allowed list %v", cfg.Name, info.Version, cfg.AllowedDockerVersions))
	}
	if len(cfg.AllowedAPIVersions) > 0 && !contains(cfg.AllowedAPIVersions, info.APIVersion) {
		return gerror.NewErrConfigInvalid(fmt.Sprintf("endpoint %q serves API %s, not in allowed list %v", cfg.Name, info.APIVersion, cfg.AllowedAPIVersions))
	}

	if cfg.VerifyImagesPresent {
		for _, img := range cfg.RequiredImages {
			if _, _, err := e.client.ImageInspectWithRaw(ctx, string(img)); err != nil {
				return gerror.WrapErrEndpointSetup(fmt.Sprintf("required image %q missing on endpoint %q", img, cfg.Name), err)
			}
		}
	}
	return nil
}

func contains(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

func (e *Endpoint) Name() string { return e.name }

// Ping reports whether the daemon currently responds.
func (e *Endpoint) Ping(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	if err != nil {
		return gerror.WrapErrEndpointTransient(fmt.Sprintf("error pinging endpoint %q", e.name), err)
	}
	return nil
}

// Load reports the endpoint's current running job-container count.
func (e *Endpoint) Load(ctx context.Context) (int, error) {
	fil := filters.NewArgs()
	fil.Add("label", jobContainerLabel)
	containers, err := e.client.ContainerList(ctx, types.ContainerListOptions{Filters: fil})
	if err != nil {
		return 0, gerror.WrapErrEndpointTransient(fmt.Sprintf("error listing containers on endpoint %q", e.name), err)
	}
	return len(containers), nil
}

// RunJob pulls req.Image, runs req.Script one phase at a time inside a
// fresh container, and collects whatever regular files appear under
// req.StagingDir once the container exits.
func (e *Endpoint) RunJob(ctx context.Context, req endpoint.RunRequest) (<-chan buildlog.LogItem, func() (endpoint.RunOutcome, error)) {
	items := make(chan buildlog.LogItem, 64)
	done := make(chan struct{})
	var outcome endpoint.RunOutcome
	var outcomeErr error

	go func() {
		defer close(items)
		defer close(done)
		outcome, outcomeErr = e.runJob(ctx, req, items)
	}()

	return items, func() (endpoint.RunOutcome, error) {
		<-done
		return outcome, outcomeErr
	}
}

func (e *Endpoint) runJob(ctx context.Context, req endpoint.RunRequest, items chan<- buildlog.LogItem) (endpoint.RunOutcome, error) {
	if err := e.pullImage(ctx, req.Image, req.PullStrategy, items); err != nil {
		items <- buildlog.StateErr(err.Error())
		return endpoint.RunOutcome{}, err
	}

	binds := []string{req.StagingDir + ":/butido/staging:rw"}
	if req.SourcePath != "" {
		binds = append(binds, req.SourcePath+":/butido/source:ro")
	}
	for i, input := range req.InputPaths {
		binds = append(binds, fmt.Sprintf("%s:/butido/inputs/%d:ro", input, i))
	}

	cConfig := &container.Config{
		Image:      string(req.Image),
		Entrypoint: []string{"sh", "-c", "while :; do sleep 3600; done"},
		Labels:     map[string]string{jobContainerLabel: req.JobID.String()},
	}
	hConfig := &container.HostConfig{AutoRemove: false, Binds: binds}
	created, err := e.client.ContainerCreate(ctx, cConfig, hConfig, &network.NetworkingConfig{}, nil, req.ContainerName)
	if err != nil {
		werr := errors.Wrap(err, "error creating job container")
		items <- buildlog.StateErr(werr.Error())
		return endpoint.RunOutcome{}, werr
	}
	containerID := created.ID
	defer e.stopContainer(containerID)

	if err := e.client.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		werr := errors.Wrap(err, "error starting job container")
		items <- buildlog.StateErr(werr.Error())
		return endpoint.RunOutcome{}, werr
	}

	phases := script.SplitPhases(req.Script)
	env := envStrings(req.Env)
	for i, phase := range phases {
		items <- buildlog.CurrentPhase(string(phase.Name))
		items <- buildlog.Progress(uint(i * 100 / max(len(phases), 1)))

		if err := e.execPhase(ctx, containerID, phase.Script, env, items); err != nil {
			items <- buildlog.StateErr(err.Error())
			return endpoint.RunOutcome{}, err
		}
	}
	items <- buildlog.Progress(100)
	items <- buildlog.StateOk("build succeeded")

	artifacts, err := collectArtifacts(req.StagingDir)
	if err != nil {
		return endpoint.RunOutcome{}, err
	}
	return endpoint.RunOutcome{
		ArtifactPaths: artifacts,
		ContainerHash: containerHash(req),
	}, nil
}

func (e *Endpoint) execPhase(ctx context.Context, containerID, phaseScript string, env []string, items chan<- buildlog.LogItem) error {
	eConfig := types.ExecConfig{
		Cmd:          []string{"sh", "-c", phaseScript},
		Env:          env,
		WorkingDir:   "/butido/staging",
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := e.client.ContainerExecCreate(ctx, containerID, eConfig)
	if err != nil {
		return fmt.Errorf("error creating phase exec: %w", err)
	}
	attached, err := e.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("error attaching phase exec: %w", err)
	}
	defer attached.Close()

	if err := pipeLines(attached.Reader, items); err != nil {
		return fmt.Errorf("error reading phase output: %w", err)
	}

	for {
		inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return fmt.Errorf("error inspecting phase exec: %w", err)
		}
		if inspect.Running {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if inspect.ExitCode != 0 {
			return fmt.Errorf("error phase exited with code %d", inspect.ExitCode)
		}
		return nil
	}
}

func (e *Endpoint) pullImage(ctx context.Context, image models.ImageName, strategy models.DockerPullStrategy, items chan<- buildlog.LogItem) error {
	if strategy == models.DockerPullStrategyNever {
		items <- buildlog.Line(fmt.Sprintf("pull strategy is %q; not pulling %q", strategy, image))
		return nil
	}
	if strategy == models.DockerPullStrategyIfNotExists {
		if _, _, err := e.client.ImageInspectWithRaw(ctx, string(image)); err == nil {
			items <- buildlog.Line(fmt.Sprintf("image %q already present; not pulling", image))
			return nil
		}
	}

	items <- buildlog.Line(fmt.Sprintf("pulling image %q", image))
	stream, err := e.client.ImagePull(ctx, string(image), types.ImagePullOptions{})
	if err != nil {
		return errors.Wrap(err, "error pulling image")
	}
	defer stream.Close()
	if err := pipeLines(stream, items); err != nil {
		return errors.Wrap(err, "error reading image pull progress")
	}
	return nil
}

func (e *Endpoint) stopContainer(containerID string) {
	var results *multierror.Error
	if err := e.client.ContainerKill(context.Background(), containerID, "kill"); err != nil && !errdefs.IsNotFound(err) {
		results = multierror.Append(results, err)
	}
	if err := e.client.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true}); err != nil && !errdefs.IsNotFound(err) {
		results = multierror.Append(results, err)
	}
	if err := results.ErrorOrNil(); err != nil {
		e.log.Warnf("error cleaning up job container %s: %v", containerID, err)
	}
}

func envStrings(env models.EnvSet) []string {
	out := make([]string, 0, len(env))
	for _, v := range env.Sorted() {
		out = append(out, fmt.Sprintf("%s=%s", v.Name, v.Value))
	}
	return out
}

func containerHash(req endpoint.RunRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Image))
	h.Write([]byte(req.Script))
	for _, v := range envStrings(req.Env) {
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// collectArtifacts walks stagingDir after a run and returns the path of
// every regular file found, relative to stagingDir, in lexical walk order.
func collectArtifacts(stagingDir string) ([]string, error) {
	if stagingDir == "" {
		return nil, nil
	}
	var paths []string
	err := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error collecting output artifacts from %s: %w", stagingDir, err)
	}
	return paths, nil
}

// pipeLines demultiplexes a Docker log/exec stream, via stdcopy, into
// Line items, one per newline-delimited output line.
func pipeLines(from interface {
	Read([]byte) (int, error)
}, items chan<- buildlog.LogItem) error {
	var out, errOut strings.Builder
	_, err := stdcopy.StdCopy(lineWriter{&out, items}, lineWriter{&errOut, items}, from)
	if err != nil {
		return err
	}
	return nil
}

// lineWriter flushes each Write as one or more Line items split on '\n',
// carrying a partial trailing fragment to the next Write the way
// bufio.Scanner would, but without needing the whole stream buffered.
type lineWriter struct {
	buf   *strings.Builder
	items chan<- buildlog.LogItem
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	content := w.buf.String()
	lines := strings.Split(content, "\n")
	for _, line := range lines[:len(lines)-1] {
		w.items <- buildlog.Line(line)
	}
	w.buf.Reset()
	w.buf.WriteString(lines[len(lines)-1])
	return len(p), nil
}
