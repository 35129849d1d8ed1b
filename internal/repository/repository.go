// Package repository is the out-of-core collaborator spec.md §6 names: a
// `find`/`find_by_name`/`find_with_version` lookup over loaded Package
// values. The grammar for parsing "name constraint" dependency strings is
// grounded on original_source/src/package/dependency/mod.rs's
// DEPENDENCY_PARSING_RE; the repository implementation itself is an
// in-memory slice since the on-disk package-manifest walk is explicitly out
// of scope (spec.md §1).
package repository

import (
	"fmt"
	"regexp"

	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
)

// Repository resolves package names and dependency constraints against a
// loaded set of packages.
type Repository interface {
	// Find returns every package with the given name and version.
	Find(name models.PackageName, version models.PackageVersion) []models.Package
	// FindByName returns every package with the given name, any version.
	FindByName(name models.PackageName) []models.Package
	// FindWithVersion returns every package with the given name whose
	// version satisfies constraint.
	FindWithVersion(name models.PackageName, constraint models.VersionConstraint) []models.Package
}

// MemoryRepository is a Repository backed by an in-memory slice, suitable
// for tests and for a loader that has already parsed package manifests
// into models.Package values.
type MemoryRepository struct {
	packages []models.Package
}

func NewMemoryRepository(packages []models.Package) *MemoryRepository {
	return &MemoryRepository{packages: packages}
}

func (r *MemoryRepository) Find(name models.PackageName, version models.PackageVersion) []models.Package {
	var out []models.Package
	for _, p := range r.packages {
		if p.Name == name && p.Version == version {
			out = append(out, p)
		}
	}
	return out
}

func (r *MemoryRepository) FindByName(name models.PackageName) []models.Package {
	var out []models.Package
	for _, p := range r.packages {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (r *MemoryRepository) FindWithVersion(name models.PackageName, constraint models.VersionConstraint) []models.Package {
	var out []models.Package
	for _, p := range r.packages {
		if p.Name != name {
			continue
		}
		if constraint.Satisfies(p.Version) {
			out = append(out, p)
		}
	}
	return out
}

// ResolveExactlyOne resolves (name, constraint) and requires that exactly
// one package match; spec.md §4.1 requires zero-or-many to be a fatal
// graph-build error.
func ResolveExactlyOne(repo Repository, name models.PackageName, constraint models.VersionConstraint) (models.Package, error) {
	matches := repo.FindWithVersion(name, constraint)
	switch len(matches) {
	case 0:
		return models.Package{}, gerror.NewErrRepositoryResolution(
			fmt.Sprintf("no package satisfies %s %v", name, constraint))
	case 1:
		return matches[0], nil
	default:
		return models.Package{}, gerror.NewErrRepositoryResolution(
			fmt.Sprintf("%d packages satisfy %s %v, expected exactly one", len(matches), name, constraint))
	}
}

// dependencyPattern mirrors the original DEPENDENCY_PARSING_RE: a package
// name followed by a space and an optional constraint operator (*, =, >)
// plus a version token.
var (
	wildcardPattern   = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*) \*$`)
	dependencyPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*) ([=>]?)([A-Za-z0-9][[:graph:]]*)$`)
)

// ParseDependency parses a "name constraint" string such as "vim =8.2",
// "gtk15 >1b" or "zlib *" into a (name, constraint) pair.
func ParseDependency(s string) (models.PackageName, models.VersionConstraint, error) {
	if m := wildcardPattern.FindStringSubmatch(s); m != nil {
		return models.PackageName(m[1]), models.WildcardVersion(), nil
	}
	m := dependencyPattern.FindStringSubmatch(s)
	if m == nil {
		return "", models.VersionConstraint{}, gerror.NewErrRepositoryResolution(
			fmt.Sprintf("could not parse dependency string: %q", s))
	}
	name := models.PackageName(m[1])
	op, version := m[2], models.PackageVersion(m[3])
	switch op {
	case "", "=":
		return name, models.ExactVersion(version), nil
	case ">":
		return name, models.HigherThanVersion(version), nil
	default:
		return "", models.VersionConstraint{}, gerror.NewErrRepositoryResolution(
			fmt.Sprintf("unknown constraint operator %q in dependency string %q", op, s))
	}
}
