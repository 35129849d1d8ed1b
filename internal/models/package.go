package models

// PhaseName is a named stage in a rendered build script, e.g. "prepare",
// "build", "install".
type PhaseName string

// PhaseScript is one phase's script contribution: a named stage plus the
// literal shell text the package declares for it. Mirrors
// original_source's Phase::Text variant; Phase::Path (reading the script
// from an external file) is not carried forward since the repository
// loader that would resolve such a path is out of core (spec.md §1).
type PhaseScript struct {
	Name PhaseName
	Text string
}

// Dependency is a single (name, constraint) requirement a Package places on
// another package, resolved against a Repository at graph-build time.
type Dependency struct {
	Name       PackageName
	Constraint VersionConstraint
}

// SourceDescriptor names where a package's source lives in the source
// cache and what hash it must verify against.
type SourceDescriptor struct {
	HashType HashType
	Digest   string
}

// Package is one entry of the repository: a buildable unit with its own
// environment, image allow/deny lists, dependency sets and build phases.
// Built once per repository load; immutable thereafter.
type Package struct {
	Name    PackageName
	Version PackageVersion

	Source SourceDescriptor
	Env    EnvSet

	AllowedImages []ImageName
	DeniedImages  []ImageName

	BuildDependencies   []Dependency
	RuntimeDependencies []Dependency

	Phases []PhaseScript
}

// ImageAllowed reports whether img may be used to build this package: it
// must be in AllowedImages (if non-empty) and must not be in DeniedImages.
func (p Package) ImageAllowed(img ImageName) bool {
	for _, denied := range p.DeniedImages {
		if denied == img {
			return false
		}
	}
	if len(p.AllowedImages) == 0 {
		return true
	}
	for _, allowed := range p.AllowedImages {
		if allowed == img {
			return true
		}
	}
	return false
}

// AllDependencies returns build and runtime dependencies concatenated;
// spec.md §9 directs that both are treated identically as scheduling
// edges even though the ledger preserves the distinction.
func (p Package) AllDependencies() []Dependency {
	out := make([]Dependency, 0, len(p.BuildDependencies)+len(p.RuntimeDependencies))
	out = append(out, p.BuildDependencies...)
	out = append(out, p.RuntimeDependencies...)
	return out
}
