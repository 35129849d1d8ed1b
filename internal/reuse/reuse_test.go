package reuse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/filestore"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/store"
)

// openTestDB opens an in-memory sqlite ledger with the schema applied
// directly (bypassing the golang-migrate embed, which needs real files on
// disk); the schema mirrors internal/store/migrations/sql/0001_init.up.sql.
func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()
	db, cleanup, err := store.NewDatabase(ctx, store.DatabaseConfig{
		ConnectionString: "file::memory:?cache=shared",
		Driver:           store.Sqlite,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	schema := `
CREATE TABLE submits (id TEXT PRIMARY KEY, unix_timestamp BIGINT, root_package_name TEXT, image_name TEXT, git_hash TEXT);
CREATE TABLE jobs (
	id TEXT PRIMARY KEY, submit_id TEXT, endpoint_name TEXT,
	package_name TEXT, package_version TEXT, image_name TEXT,
	container_hash TEXT, script_text TEXT, log_text TEXT,
	env TEXT DEFAULT '[]', success BOOLEAN
);
CREATE TABLE artifacts (id TEXT PRIMARY KEY, job_id TEXT, path TEXT);
CREATE TABLE releases (id TEXT PRIMARY KEY, artifact_id TEXT, store_name TEXT, unix_timestamp BIGINT);
`
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func insertJobWithArtifact(t *testing.T, db *store.DB, ledger *store.Ledger, pkgName, pkgVersion, image, script string, success bool, env models.EnvSet, artifactPath string) models.ArtifactID {
	t.Helper()
	job := models.Job{
		ID:             models.NewJobID(),
		SubmitID:       models.NewSubmitID(),
		Endpoint:       "ep1",
		PackageName:    models.PackageName(pkgName),
		PackageVersion: models.PackageVersion(pkgVersion),
		Image:          models.ImageName(image),
		ContainerHash:  "deadbeef",
		ScriptText:     script,
		LogText:        "",
		Env:            env,
		Success:        success,
	}
	artifact := models.Artifact{ID: models.NewArtifactID(), JobID: job.ID, Path: artifactPath}
	require.NoError(t, ledger.CreateJob(context.Background(), nil, job, []models.Artifact{artifact}))
	return artifact.ID
}

func TestFindReusesSupersetEnvOnly(t *testing.T) {
	db := openTestDB(t)
	ledger := store.NewLedger(db)

	dir := t.TempDir()
	root, err := filestore.NewStoreRoot(dir)
	require.NoError(t, err)
	require.NoError(t, writeFile(dir, "p.tar"))
	staging, err := filestore.Load(root, true)
	require.NoError(t, err)

	insertJobWithArtifact(t, db, ledger, "p", "1.0", "i", "script-p",
		true, models.EnvSet{{Name: "A", Value: "1"}}, "p.tar")

	query := NewQuery(db, ledger, staging, nil)

	// Overlay {A=1, B=2} is a superset of the historical {A=1}: must hit.
	hits, err := query.Find(context.Background(), Request{
		Package:    models.Package{Name: "p", Version: "1.0"},
		EnvOverlay: models.EnvSet{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Overlay {} does not contain A=1: must miss (spec.md §8 scenario S4).
	hits, err = query.Find(context.Background(), Request{
		Package:    models.Package{Name: "p", Version: "1.0"},
		EnvOverlay: nil,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFindSkipsArtifactsMissingOnDisk(t *testing.T) {
	db := openTestDB(t)
	ledger := store.NewLedger(db)

	dir := t.TempDir()
	root, err := filestore.NewStoreRoot(dir)
	require.NoError(t, err)
	staging, err := filestore.Load(root, true)
	require.NoError(t, err)

	insertJobWithArtifact(t, db, ledger, "p", "1.0", "i", "script-p", true, nil, "gone.tar")

	query := NewQuery(db, ledger, staging, nil)
	hits, err := query.Find(context.Background(), Request{Package: models.Package{Name: "p", Version: "1.0"}})
	require.NoError(t, err)
	assert.Empty(t, hits, "a ledger row whose file is gone must be silently skipped, not an error")
}

func TestFindRespectsImageAllowDeny(t *testing.T) {
	db := openTestDB(t)
	ledger := store.NewLedger(db)

	dir := t.TempDir()
	root, err := filestore.NewStoreRoot(dir)
	require.NoError(t, err)
	require.NoError(t, writeFile(dir, "p.tar"))
	staging, err := filestore.Load(root, true)
	require.NoError(t, err)

	insertJobWithArtifact(t, db, ledger, "p", "1.0", "denied-image", "script", true, nil, "p.tar")

	query := NewQuery(db, ledger, staging, nil)
	hits, err := query.Find(context.Background(), Request{
		Package: models.Package{Name: "p", Version: "1.0", DeniedImages: []models.ImageName{"denied-image"}},
	})
	require.NoError(t, err)
	assert.Empty(t, hits, "a historical job on a denied image must not be reused")
}

func writeFile(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644)
}
