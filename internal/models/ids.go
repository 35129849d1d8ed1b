package models

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// PackageName identifies a package, e.g. "libfoo". Grounded on the
// [alpha][alnum_-]* shape required by spec.md §3.
type PackageName string

var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

func (n PackageName) Valid() bool {
	return n != "" && packageNamePattern.MatchString(string(n))
}

func (n PackageName) String() string { return string(n) }

// PackageVersion is an opaque, non-empty version string. Ordering between
// two versions is implementation-defined (spec.md §3); see Compare.
type PackageVersion string

func (v PackageVersion) Valid() bool { return v != "" }

func (v PackageVersion) String() string { return string(v) }

// ImageName identifies a container image; equality is byte-equality.
type ImageName string

func (n ImageName) Valid() bool { return n != "" }

func (n ImageName) String() string { return string(n) }

// JobID is a UUID v4 identifying one JobDefinition / job-graph node.
type JobID uuid.UUID

func NewJobID() JobID { return JobID(uuid.New()) }

func (id JobID) String() string { return uuid.UUID(id).String() }

func (id JobID) IsZero() bool { return id == JobID{} }

func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return JobID{}, fmt.Errorf("error parsing job id: %w", err)
	}
	return JobID(u), nil
}

// SubmitID is a UUID v4, hyphenated form, identifying one submit (spec.md §6).
type SubmitID uuid.UUID

func NewSubmitID() SubmitID { return SubmitID(uuid.New()) }

func (id SubmitID) String() string { return uuid.UUID(id).String() }

func ParseSubmitID(s string) (SubmitID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SubmitID{}, fmt.Errorf("error parsing submit id: %w", err)
	}
	return SubmitID(u), nil
}

// ArtifactID identifies one artifact ledger row.
type ArtifactID uuid.UUID

func NewArtifactID() ArtifactID { return ArtifactID(uuid.New()) }

func (id ArtifactID) String() string { return uuid.UUID(id).String() }

// ReleaseID identifies one release ledger row.
type ReleaseID uuid.UUID

func NewReleaseID() ReleaseID { return ReleaseID(uuid.New()) }

func (id ReleaseID) String() string { return uuid.UUID(id).String() }
