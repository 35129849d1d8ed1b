package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
)

// Ledger is the Artifact Ledger: the relational record of submits, jobs,
// images, environment variables, artifacts and releases spec.md §2/§3
// describes; source hashes are not recorded. Grounded on server/store/jobs/jobs.go's
// goqu-dataset query shape, simplified to operate directly against the
// Reader/Writer interfaces directly rather than a generic resource-table
// abstraction.
type Ledger struct {
	db *DB
}

func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// CreateSubmit inserts a new submit row.
func (l *Ledger) CreateSubmit(ctx context.Context, txOrNil *Tx, submit models.Submit) error {
	return l.db.Write2(txOrNil, func(w Writer) error {
		_, err := w.Insert("submits").Rows(goqu.Record{
			"id":                 submit.ID.String(),
			"unix_timestamp":     submit.Timestamp,
			"root_package_name":  string(submit.RootPackage),
			"image_name":         string(submit.Image),
			"git_hash":           submit.GitHash,
		}).Executor().ExecContext(ctx)
		if err != nil {
			return gerror.WrapErrLedgerWrite("error inserting submit", err)
		}
		return nil
	})
}

// EnsureEndpoint records the endpoint's name in the ledger if it is not
// already present. A create-or-fetch pattern, mirroring the scheduler's
// need to reference an endpoint row from a job without tracking whether
// it has been seen before.
func (l *Ledger) EnsureEndpoint(ctx context.Context, txOrNil *Tx, name string) error {
	return ensureNamedRow(ctx, l.db, txOrNil, "endpoints", name)
}

// EnsureImage records the image's name in the ledger if not already present.
func (l *Ledger) EnsureImage(ctx context.Context, txOrNil *Tx, name models.ImageName) error {
	return ensureNamedRow(ctx, l.db, txOrNil, "images", string(name))
}

// EnsurePackage records the (name, version) pair in the ledger if not
// already present.
func (l *Ledger) EnsurePackage(ctx context.Context, txOrNil *Tx, name models.PackageName, version models.PackageVersion) error {
	return l.db.Write2(txOrNil, func(w Writer) error {
		exists, err := rowExists(ctx, w, "packages", goqu.Ex{"name": string(name), "version": string(version)})
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = w.Insert("packages").Rows(goqu.Record{"name": string(name), "version": string(version)}).Executor().ExecContext(ctx)
		if err != nil {
			return gerror.WrapErrLedgerWrite("error inserting package", err)
		}
		return nil
	})
}

func ensureNamedRow(ctx context.Context, db *DB, txOrNil *Tx, table, name string) error {
	return db.Write2(txOrNil, func(w Writer) error {
		exists, err := rowExists(ctx, w, table, goqu.Ex{"name": name})
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = w.Insert(table).Rows(goqu.Record{"name": name}).Executor().ExecContext(ctx)
		if err != nil {
			return gerror.WrapErrLedgerWrite(fmt.Sprintf("error inserting row into %s", table), err)
		}
		return nil
	})
}

func rowExists(ctx context.Context, w Writer, table string, where goqu.Ex) (bool, error) {
	var count int64
	found, err := w.From(table).Select(goqu.COUNT("*")).Where(where).ScanValContext(ctx, &count)
	if err != nil {
		return false, gerror.WrapErrLedgerWrite(fmt.Sprintf("error checking existence in %s", table), err)
	}
	return found && count > 0, nil
}

// CreateJob atomically inserts a job row together with its artifact and
// environment-variable rows, the way spec.md §4.3 step 4 requires ("insert
// the Job row atomically with its artifact rows").
func (l *Ledger) CreateJob(ctx context.Context, txOrNil *Tx, job models.Job, artifacts []models.Artifact) error {
	return l.db.WithTx(ctx, txOrNil, func(tx *Tx) error {
		if err := l.db.Write2(tx, func(w Writer) error {
			_, err := w.Insert("jobs").Rows(goqu.Record{
				"id":              job.ID.String(),
				"submit_id":       job.SubmitID.String(),
				"endpoint_name":   job.Endpoint,
				"package_name":    string(job.PackageName),
				"package_version": string(job.PackageVersion),
				"image_name":      string(job.Image),
				"container_hash":  job.ContainerHash,
				"script_text":     job.ScriptText,
				"log_text":        job.LogText,
				"env":             job.Env,
				"success":         job.Success,
			}).Executor().ExecContext(ctx)
			return err
		}); err != nil {
			return gerror.WrapErrLedgerWrite("error inserting job", err)
		}

		for _, envVar := range job.Env {
			if err := l.db.Write2(tx, func(w Writer) error {
				_, err := w.Insert("envvars").Rows(goqu.Record{
					"job_id": job.ID.String(),
					"name":   envVar.Name,
					"value":  envVar.Value,
				}).Executor().ExecContext(ctx)
				return err
			}); err != nil {
				return gerror.WrapErrLedgerWrite("error inserting job env var", err)
			}
		}

		for _, artifact := range artifacts {
			if err := l.db.Write2(tx, func(w Writer) error {
				_, err := w.Insert("artifacts").Rows(goqu.Record{
					"id":     artifact.ID.String(),
					"job_id": artifact.JobID.String(),
					"path":   artifact.Path,
				}).Executor().ExecContext(ctx)
				return err
			}); err != nil {
				return gerror.WrapErrLedgerWrite("error inserting artifact", err)
			}
		}
		return nil
	})
}

// CreateRelease records that an artifact was promoted into a named
// release store. Written by the out-of-core release command, not by the
// orchestrator (spec.md §3).
func (l *Ledger) CreateRelease(ctx context.Context, txOrNil *Tx, release models.Release) error {
	return l.db.Write2(txOrNil, func(w Writer) error {
		_, err := w.Insert("releases").Rows(goqu.Record{
			"id":             release.ID.String(),
			"artifact_id":    release.ArtifactID.String(),
			"store_name":     release.StoreName,
			"unix_timestamp": release.ReleasedAt,
		}).Executor().ExecContext(ctx)
		if err != nil {
			return gerror.WrapErrLedgerWrite("error inserting release", err)
		}
		return nil
	})
}

// Stats is a read-only snapshot of ledger counts, for CLI tools that print
// a summary of what a store holds.
type Stats struct {
	Submits       int64
	JobsSucceeded int64
	JobsFailed    int64
	Artifacts     int64
	Releases      int64
}

// Stats counts submits, jobs by outcome, artifacts and releases, for the
// metrics command (spec.md §9 supplemented feature).
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.Read2(nil, func(r Reader) error {
		if _, err := r.From("submits").Select(goqu.COUNT("id")).ScanValContext(ctx, &s.Submits); err != nil {
			return err
		}
		if _, err := r.From("jobs").Select(goqu.COUNT("id")).Where(goqu.Ex{"success": true}).ScanValContext(ctx, &s.JobsSucceeded); err != nil {
			return err
		}
		if _, err := r.From("jobs").Select(goqu.COUNT("id")).Where(goqu.Ex{"success": false}).ScanValContext(ctx, &s.JobsFailed); err != nil {
			return err
		}
		if _, err := r.From("artifacts").Select(goqu.COUNT("id")).ScanValContext(ctx, &s.Artifacts); err != nil {
			return err
		}
		if _, err := r.From("releases").Select(goqu.COUNT("id")).ScanValContext(ctx, &s.Releases); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Stats{}, gerror.WrapErrLedgerWrite("error reading ledger stats", err)
	}
	return s, nil
}

// ReleaseDateFor returns the most recent release timestamp recorded for
// artifactID in any store, or zero if it has never been released.
func (l *Ledger) ReleaseDateFor(ctx context.Context, txOrNil *Tx, artifactID models.ArtifactID) (time.Time, bool, error) {
	var unixTimestamp sql.NullInt64
	var found bool
	err := l.db.Read2(txOrNil, func(r Reader) error {
		var err error
		found, err = r.From("releases").
			Select(goqu.MAX("unix_timestamp")).
			Where(goqu.Ex{"artifact_id": artifactID.String()}).
			ScanValContext(ctx, &unixTimestamp)
		return err
	})
	if err != nil {
		return time.Time{}, false, gerror.WrapErrLedgerWrite("error reading release date", err)
	}
	if !found || !unixTimestamp.Valid || unixTimestamp.Int64 == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(unixTimestamp.Int64, 0).UTC(), true, nil
}
