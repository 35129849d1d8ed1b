// Package reuse implements the artifact-reuse query spec.md §4.2
// describes: given a package, image, environment overlay and optional
// script filter, decide whether a prior successful job's artifacts can be
// substituted for a fresh run. Grounded directly on
// original_source/src/db/find_artifacts.rs, translated from its
// query-then-Rust-side-filter shape into a goqu join query plus a Go-side
// environment-subset filter.
package reuse

import (
	"context"
	"fmt"
	"sync"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/primeos-work/butido/internal/filestore"
	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/store"
)

// Query is the artifact-reuse lookup, scoped to one ledger and one set of
// candidate stores. Results are memoized by fingerprint hash: two lookups
// for the same (package, image-policy, script, env overlay) never re-query
// the ledger (spec.md §8 invariant 5 requires this determinism anyway).
type Query struct {
	db            *store.DB
	ledger        *store.Ledger
	stagingStore  *filestore.Store // optional; nil if staging is not probed
	releaseStores []*filestore.Store

	cacheMu sync.Mutex
	cache   map[uint64][]Hit
}

func NewQuery(db *store.DB, ledger *store.Ledger, stagingStore *filestore.Store, releaseStores []*filestore.Store) *Query {
	return &Query{
		db:            db,
		ledger:        ledger,
		stagingStore:  stagingStore,
		releaseStores: releaseStores,
		cache:         make(map[uint64][]Hit),
	}
}

// Request names a fingerprint to look up.
type Request struct {
	Package      models.Package
	EnvOverlay   models.EnvSet // package env ∪ extra overlay
	ScriptText   string        // only compared when ScriptFilter is true
	ScriptFilter bool
}

// Hit is one resolved reusable artifact.
type Hit struct {
	Path        filestore.FullArtifactPath
	ReleaseDate *int64 // unix timestamp, nil if still only staged
}

// candidateRow is the subset of a historical job/artifact row the
// fingerprint filter needs.
type candidateRow struct {
	ArtifactID string        `db:"artifact_id"`
	Path       string        `db:"path"`
	Env        models.EnvSet `db:"env"`
}

// Find returns the ordered list of on-disk artifact paths belonging to a
// previously successful job with the same fingerprint as req. An empty
// result is not an error; only query/IO failures are.
func (q *Query) Find(ctx context.Context, req Request) ([]Hit, error) {
	key, err := fingerprintHash(req)
	if err != nil {
		return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("error computing reuse fingerprint: %v", err))
	}
	q.cacheMu.Lock()
	if cached, ok := q.cache[key]; ok {
		q.cacheMu.Unlock()
		return cached, nil
	}
	q.cacheMu.Unlock()

	hits, err := q.find(ctx, req)
	if err != nil {
		return nil, err
	}

	q.cacheMu.Lock()
	q.cache[key] = hits
	q.cacheMu.Unlock()
	return hits, nil
}

func (q *Query) find(ctx context.Context, req Request) ([]Hit, error) {
	rows, err := q.queryCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, row := range rows {
		// Every env var recorded against the historical job must be found,
		// name and value both, in the candidate overlay (subset, not
		// equality -- spec.md §4.2).
		if !row.Env.SubsetOf(req.EnvOverlay) {
			continue
		}
		artifactID, err := parseArtifactID(row.ArtifactID)
		if err != nil {
			return nil, gerror.WrapErrLedgerWrite("error parsing artifact id from reuse candidate", err)
		}
		path, err := filestore.NewArtifactPath(row.Path)
		if err != nil {
			// A malformed path in the ledger is skipped, not fatal: the
			// file it would have pointed at cannot exist either.
			continue
		}
		full, releaseDate, ok := q.resolve(ctx, artifactID, path)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Path: full, ReleaseDate: releaseDate})
	}
	return hits, nil
}

func (q *Query) queryCandidates(ctx context.Context, req Request) ([]candidateRow, error) {
	var rows []candidateRow
	err := q.db.Read2(nil, func(r store.Reader) error {
		where := []exp.Expression{
			goqu.I("j.package_name").Eq(string(req.Package.Name)),
			goqu.I("j.package_version").Eq(string(req.Package.Version)),
			goqu.I("j.success").Eq(true),
		}
		if allowed := imageStrings(req.Package.AllowedImages); len(allowed) > 0 {
			where = append(where, goqu.I("j.image_name").In(allowed))
		}
		if denied := imageStrings(req.Package.DeniedImages); len(denied) > 0 {
			where = append(where, goqu.I("j.image_name").NotIn(denied))
		}
		if req.ScriptFilter {
			where = append(where, goqu.I("j.script_text").Eq(req.ScriptText))
		}

		ds := r.From(goqu.T("artifacts").As("a")).
			Join(goqu.T("jobs").As("j"), goqu.On(goqu.I("j.id").Eq(goqu.I("a.job_id")))).
			Select(
				goqu.I("a.id").As("artifact_id"),
				goqu.I("a.path").As("path"),
				goqu.I("j.env").As("env"),
			).
			Where(where...)
		return ds.ScanStructsContext(ctx, &rows)
	})
	if err != nil {
		return nil, gerror.WrapErrLedgerWrite("error querying reuse candidates", err)
	}
	return rows, nil
}

// fingerprintHash hashes the parts of Request that determine its reuse
// result, with the env overlay sorted first so ordering never affects the
// hash (spec.md §8 invariant 5).
func fingerprintHash(req Request) (uint64, error) {
	sortedEnv, err := req.EnvOverlay.Sorted().FastHash()
	if err != nil {
		return 0, err
	}
	type fingerprint struct {
		Name, Version  string
		Allowed, Denied []string
		ScriptFilter   bool
		ScriptText     string
		EnvHash        uint64
	}
	return hashstructure.Hash(fingerprint{
		Name:         string(req.Package.Name),
		Version:      string(req.Package.Version),
		Allowed:      imageStrings(req.Package.AllowedImages),
		Denied:       imageStrings(req.Package.DeniedImages),
		ScriptFilter: req.ScriptFilter,
		ScriptText:   req.ScriptText,
		EnvHash:      sortedEnv,
	}, hashstructure.FormatV2, nil)
}

func imageStrings(images []models.ImageName) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = string(img)
	}
	return out
}

func parseArtifactID(s string) (models.ArtifactID, error) {
	id, err := models.ParseJobID(s)
	return models.ArtifactID(id), err
}

// resolve looks up path first among release stores (in declared order),
// since a released artifact is preferred over a staged one when both
// exist, then falls back to the staging store.
func (q *Query) resolve(ctx context.Context, artifactID models.ArtifactID, path filestore.ArtifactPath) (filestore.FullArtifactPath, *int64, bool) {
	if full, ok := q.firstReleased(path); ok {
		var releaseUnix *int64
		if releaseDate, released, err := q.ledger.ReleaseDateFor(ctx, nil, artifactID); err == nil && released {
			u := releaseDate.Unix()
			releaseUnix = &u
		}
		return full, releaseUnix, true
	}
	if q.stagingStore != nil {
		if _, ok := q.stagingStore.Get(path); ok {
			if full, err := q.stagingStore.FullPath(path); err == nil {
				return full, nil, true
			}
		}
	}
	return "", nil, false
}

func (q *Query) firstReleased(path filestore.ArtifactPath) (filestore.FullArtifactPath, bool) {
	for _, rs := range q.releaseStores {
		if _, ok := rs.Get(path); ok {
			if full, err := rs.FullPath(path); err == nil {
				return full, true
			}
		}
	}
	return "", false
}
