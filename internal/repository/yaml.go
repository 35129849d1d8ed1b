package repository

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/primeos-work/butido/internal/models"
)

// yamlPackage is the on-disk manifest shape a repository directory walk
// (out of core per spec.md §1) would produce; LoadYAML exists so tests and
// the CLI have a concrete, non-mocked Repository without needing the full
// package-manifest grammar.
type yamlPackage struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version"`
	Hash    string   `yaml:"hash"`
	Env     []string `yaml:"env"`

	AllowedImages []string `yaml:"allowed_images"`
	DeniedImages  []string `yaml:"denied_images"`

	BuildDependencies   []string `yaml:"build_dependencies"`
	RuntimeDependencies []string `yaml:"runtime_dependencies"`

	Phases []yamlPhase `yaml:"phases"`
}

type yamlPhase struct {
	Name string `yaml:"name"`
	Text string `yaml:"script"`
}

type yamlManifest struct {
	Packages []yamlPackage `yaml:"packages"`
}

// LoadYAML parses a manifest document into a MemoryRepository.
func LoadYAML(r io.Reader) (*MemoryRepository, error) {
	var doc yamlManifest
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding repository manifest: %w", err)
	}
	packages := make([]models.Package, 0, len(doc.Packages))
	for _, yp := range doc.Packages {
		pkg, err := yp.toModel()
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return NewMemoryRepository(packages), nil
}

func (yp yamlPackage) toModel() (models.Package, error) {
	env := make(models.EnvSet, 0, len(yp.Env))
	for _, kv := range yp.Env {
		name, value, err := splitEnv(kv)
		if err != nil {
			return models.Package{}, err
		}
		env = append(env, models.EnvVar{Name: name, Value: value})
	}

	buildDeps, err := parseDependencyList(yp.BuildDependencies)
	if err != nil {
		return models.Package{}, err
	}
	runtimeDeps, err := parseDependencyList(yp.RuntimeDependencies)
	if err != nil {
		return models.Package{}, err
	}

	phases := make([]models.PhaseScript, 0, len(yp.Phases))
	for _, p := range yp.Phases {
		phases = append(phases, models.PhaseScript{Name: models.PhaseName(p.Name), Text: p.Text})
	}

	return models.Package{
		Name:    models.PackageName(yp.Name),
		Version: models.PackageVersion(yp.Version),
		Source: models.SourceDescriptor{
			HashType: models.HashTypeSHA256,
			Digest:   yp.Hash,
		},
		Env:                 env,
		AllowedImages:       toImageNames(yp.AllowedImages),
		DeniedImages:        toImageNames(yp.DeniedImages),
		BuildDependencies:   buildDeps,
		RuntimeDependencies: runtimeDeps,
		Phases:              phases,
	}, nil
}

func toImageNames(in []string) []models.ImageName {
	out := make([]models.ImageName, 0, len(in))
	for _, s := range in {
		out = append(out, models.ImageName(s))
	}
	return out
}

func parseDependencyList(in []string) ([]models.Dependency, error) {
	out := make([]models.Dependency, 0, len(in))
	for _, s := range in {
		name, constraint, err := ParseDependency(s)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Dependency{Name: name, Constraint: constraint})
	}
	return out, nil
}

func splitEnv(kv string) (name, value string, err error) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("error env entry %q has no '=' separator", kv)
}
