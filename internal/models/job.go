package models

// JobDefinition is one node of a Job Graph: a package build plus the
// image and environment overlay it will run with, and the UUIDs of the
// jobs it depends on. Created per submit; immutable once the graph is
// built (internal/graph).
type JobDefinition struct {
	ID      JobID
	Package Package
	Image   ImageName
	Env     EnvSet

	Dependencies []JobID
}

// DependsOn reports whether id is a direct dependency of this job.
func (j JobDefinition) DependsOn(id JobID) bool {
	for _, dep := range j.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Job is the ledger row written once a job has run to completion
// (successfully or not): the immutable record of what actually happened,
// as distinct from the JobDefinition that described what should happen.
type Job struct {
	ID       JobID    `db:"id"`
	SubmitID SubmitID `db:"submit_id"`
	Endpoint string   `db:"endpoint_name"`

	PackageName    PackageName    `db:"package_name"`
	PackageVersion PackageVersion `db:"package_version"`
	Image          ImageName      `db:"image_name"`

	ContainerHash string `db:"container_hash"`
	ScriptText    string `db:"script_text"`
	LogText       string `db:"log_text"`

	Env EnvSet `db:"env"`

	Success bool `db:"success"`
}

// Submit is one top-level build invocation (spec.md glossary), written
// once at orchestration start.
type Submit struct {
	ID          SubmitID  `db:"id"`
	Timestamp   int64     `db:"unix_timestamp"`
	RootPackage PackageName `db:"root_package_name"`
	Image       ImageName `db:"image_name"`
	GitHash     string    `db:"git_hash"`
}

// Artifact is a ledger row recording one file a job produced, as a path
// relative to the store root it was written under.
type Artifact struct {
	ID    ArtifactID `db:"id"`
	JobID JobID      `db:"job_id"`
	Path  string     `db:"path"`
}

// Release is a ledger row recording that an artifact was promoted into a
// named release store on a given date. Written by the (out-of-core)
// release command, not by the orchestrator itself.
type Release struct {
	ID         ReleaseID  `db:"id"`
	ArtifactID ArtifactID `db:"artifact_id"`
	StoreName  string     `db:"store_name"`
	ReleasedAt int64      `db:"unix_timestamp"`
}
