package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/endpoint"
	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/store"
)

type fakeEndpoint struct {
	name       string
	load       int
	loadErr    error
	failFirstN int32
	artifacts  []string
	success    bool
}

func (f *fakeEndpoint) Name() string { return f.name }

func (f *fakeEndpoint) Ping(ctx context.Context) error { return nil }

func (f *fakeEndpoint) Load(ctx context.Context) (int, error) {
	if atomic.LoadInt32(&f.failFirstN) > 0 {
		atomic.AddInt32(&f.failFirstN, -1)
		return 0, f.loadErr
	}
	return f.load, nil
}

func (f *fakeEndpoint) RunJob(ctx context.Context, req endpoint.RunRequest) (<-chan buildlog.LogItem, func() (endpoint.RunOutcome, error)) {
	items := make(chan buildlog.LogItem, 4)
	items <- buildlog.Line("building")
	if f.success {
		items <- buildlog.StateOk("ok")
	} else {
		items <- buildlog.StateErr("boom")
	}
	close(items)
	return items, func() (endpoint.RunOutcome, error) {
		return endpoint.RunOutcome{ArtifactPaths: f.artifacts, ContainerHash: "deadbeef"}, nil
	}
}

func openLedger(t *testing.T) *store.Ledger {
	t.Helper()
	db, cleanup, err := store.NewDatabase(context.Background(), store.DatabaseConfig{
		ConnectionString: "file::memory:?cache=shared",
		Driver:           store.Sqlite,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	schema := `
CREATE TABLE endpoints (name TEXT PRIMARY KEY);
CREATE TABLE images (name TEXT PRIMARY KEY);
CREATE TABLE packages (name TEXT, version TEXT, PRIMARY KEY (name, version));
CREATE TABLE jobs (
	id TEXT PRIMARY KEY, submit_id TEXT, endpoint_name TEXT,
	package_name TEXT, package_version TEXT, image_name TEXT,
	container_hash TEXT, script_text TEXT, log_text TEXT,
	env TEXT DEFAULT '[]', success BOOLEAN
);
CREATE TABLE envvars (job_id TEXT, name TEXT, value TEXT);
CREATE TABLE artifacts (id TEXT PRIMARY KEY, job_id TEXT, path TEXT);
`
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return store.NewLedger(db)
}

func TestSelectEndpointPicksLeastLoaded(t *testing.T) {
	e1 := &fakeEndpoint{name: "e1", load: 3}
	e2 := &fakeEndpoint{name: "e2", load: 1}
	s := New([]endpoint.Endpoint{e1, e2}, openLedger(t), nil, logger.NoOpLogFactory)

	selected, err := s.selectEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e2", selected.Name())
}

func TestSelectEndpointBreaksTiesByDeclarationOrder(t *testing.T) {
	e1 := &fakeEndpoint{name: "e1", load: 2}
	e2 := &fakeEndpoint{name: "e2", load: 2}
	s := New([]endpoint.Endpoint{e1, e2}, openLedger(t), nil, logger.NoOpLogFactory)

	selected, err := s.selectEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e1", selected.Name())
}

type stubClock struct{ slept []time.Duration }

func (c *stubClock) Sleep(d time.Duration) { c.slept = append(c.slept, d) }

func TestSelectEndpointRetriesWhenAllFail(t *testing.T) {
	e1 := &fakeEndpoint{name: "e1", loadErr: assertError{}, failFirstN: 2}
	s := New([]endpoint.Endpoint{e1}, openLedger(t), nil, logger.NoOpLogFactory)
	clk := &stubClock{}
	s.clk = clk
	s.retryBackoff = time.Millisecond

	selected, err := s.selectEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e1", selected.Name())
	assert.NotEmpty(t, clk.slept)
}

type assertError struct{}

func (assertError) Error() string { return "load failed" }

func TestScheduleJobRunsAndRecordsLedgerRow(t *testing.T) {
	ep := &fakeEndpoint{name: "e1", success: true, artifacts: []string{"out.tar"}}
	ledger := openLedger(t)
	s := New([]endpoint.Endpoint{ep}, ledger, nil, logger.NoOpLogFactory)

	job := RunnableJob{
		Definition: models.JobDefinition{
			ID:      models.NewJobID(),
			Package: models.Package{Name: "p", Version: "1.0"},
			Image:   "alpine",
		},
		SubmitID: models.NewSubmitID(),
		Script:   "#!/bin/sh\n",
	}

	result, err := s.ScheduleJob(context.Background(), job, nil)
	require.NoError(t, err)
	assert.True(t, result.Job.Success)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "out.tar", result.Artifacts[0].Path)
}

func TestScheduleJobReturnsErrorOnContainerFailure(t *testing.T) {
	ep := &fakeEndpoint{name: "e1", success: false}
	s := New([]endpoint.Endpoint{ep}, openLedger(t), nil, logger.NoOpLogFactory)

	job := RunnableJob{
		Definition: models.JobDefinition{
			ID:      models.NewJobID(),
			Package: models.Package{Name: "p", Version: "1.0"},
			Image:   "alpine",
		},
		SubmitID: models.NewSubmitID(),
		Script:   "#!/bin/sh\n",
	}

	_, err := s.ScheduleJob(context.Background(), job, nil)
	assert.Error(t, err)
}
