package models

import (
	"strings"

	"golang.org/x/mod/semver"
)

// ConstraintKind distinguishes the three dependency-version constraint
// shapes spec.md §3 names.
type ConstraintKind string

const (
	ConstraintExact      ConstraintKind = "Exact"
	ConstraintHigherThan ConstraintKind = "HigherThan"
	ConstraintWildcard   ConstraintKind = "Wildcard"
)

// VersionConstraint is the dependency-version requirement a package places
// on one of its build or runtime dependencies.
type VersionConstraint struct {
	Kind    ConstraintKind
	Version PackageVersion // unused when Kind == ConstraintWildcard
}

func ExactVersion(v PackageVersion) VersionConstraint {
	return VersionConstraint{Kind: ConstraintExact, Version: v}
}

func HigherThanVersion(v PackageVersion) VersionConstraint {
	return VersionConstraint{Kind: ConstraintHigherThan, Version: v}
}

func WildcardVersion() VersionConstraint {
	return VersionConstraint{Kind: ConstraintWildcard}
}

// Satisfies reports whether candidate meets the constraint.
func (c VersionConstraint) Satisfies(candidate PackageVersion) bool {
	switch c.Kind {
	case ConstraintExact:
		return candidate == c.Version
	case ConstraintHigherThan:
		return CompareVersions(candidate, c.Version) > 0
	case ConstraintWildcard:
		return true
	default:
		return false
	}
}

// CompareVersions orders two package versions. Versions that parse as
// canonical semver (optionally missing the "v" prefix) are compared
// numerically; otherwise comparison falls back to byte-wise string
// ordering. Ordering between non-semver versions is implementation-defined,
// as spec.md §3 allows.
func CompareVersions(a, b PackageVersion) int {
	sa, sb := canonicalizeSemver(string(a)), canonicalizeSemver(string(b))
	if semver.IsValid(sa) && semver.IsValid(sb) {
		return semver.Compare(sa, sb)
	}
	return strings.Compare(string(a), string(b))
}

func canonicalizeSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
