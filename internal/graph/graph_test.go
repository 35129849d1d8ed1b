package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/repository"
)

func pkg(name, version string, deps ...models.Dependency) models.Package {
	return models.Package{
		Name:              models.PackageName(name),
		Version:           models.PackageVersion(version),
		BuildDependencies: deps,
	}
}

func dep(name, version string) models.Dependency {
	return models.Dependency{Name: models.PackageName(name), Constraint: models.ExactVersion(models.PackageVersion(version))}
}

func TestBuildChainOfThree(t *testing.T) {
	// C depends on B depends on A (spec.md §8 scenario S2).
	repo := repository.NewMemoryRepository([]models.Package{
		pkg("A", "1.0"),
		pkg("B", "1.0", dep("A", "1.0")),
		pkg("C", "1.0", dep("B", "1.0")),
	})

	g, err := Build(repo, "C", "1.0", "alpine:3.19", nil)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	root, ok := g.Node(g.Root)
	require.True(t, ok)
	assert.Equal(t, models.PackageName("C"), root.Package.Name)
	require.Len(t, root.Dependencies, 1)

	b, ok := g.Node(root.Dependencies[0])
	require.True(t, ok)
	assert.Equal(t, models.PackageName("B"), b.Package.Name)
	require.Len(t, b.Dependencies, 1)

	a, ok := g.Node(b.Dependencies[0])
	require.True(t, ok)
	assert.Equal(t, models.PackageName("A"), a.Package.Name)
	assert.Empty(t, a.Dependencies)
}

func TestBuildRejectsCycle(t *testing.T) {
	repo := repository.NewMemoryRepository([]models.Package{
		pkg("A", "1.0", dep("B", "1.0")),
		pkg("B", "1.0", dep("A", "1.0")),
	})

	_, err := Build(repo, "A", "1.0", "alpine:3.19", nil)
	assert.Error(t, err)
}

func TestBuildRejectsAmbiguousResolution(t *testing.T) {
	repo := repository.NewMemoryRepository([]models.Package{
		pkg("A", "1.0", dep("B", "1.0")),
		pkg("B", "1.0"),
		pkg("B", "2.0"),
	})

	// dep("B", "1.0") is unambiguous, so build a case with a wildcard to
	// trigger the zero-or-many rule via FindByName at the root instead.
	_, err := Build(repo, "B", "", "alpine:3.19", nil)
	assert.Error(t, err, "two packages named B with no version given must fail resolution")
}

func TestBuildRejectsSharedDependency(t *testing.T) {
	// R depends on L1 and L2, both depending on A: A has a single parent
	// only if shared through one dependent. Here L1 and L2 both depend on
	// A directly, which means A has two parents and must be rejected
	// per invariant 2 (parent uniqueness at wiring time).
	repo := repository.NewMemoryRepository([]models.Package{
		pkg("A", "1.0"),
		pkg("L1", "1.0", dep("A", "1.0")),
		pkg("L2", "1.0", dep("A", "1.0")),
		pkg("R", "1.0", dep("L1", "1.0"), dep("L2", "1.0")),
	})

	_, err := Build(repo, "R", "1.0", "alpine:3.19", nil)
	assert.Error(t, err, "a shared dependency violates parent uniqueness and must be rejected at construction")
}

func TestBuildSiblingsDoNotShareDependencies(t *testing.T) {
	// R depends on L1 and L2 (spec.md §8 scenario S3 shape); no shared
	// grandchildren, so parent uniqueness holds.
	repo := repository.NewMemoryRepository([]models.Package{
		pkg("L1", "1.0"),
		pkg("L2", "1.0"),
		pkg("R", "1.0", dep("L1", "1.0"), dep("L2", "1.0")),
	})

	g, err := Build(repo, "R", "1.0", "alpine:3.19", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	root, _ := g.Node(g.Root)
	require.Len(t, root.Dependencies, 2)
	for _, depID := range root.Dependencies {
		parent, ok := g.Parent(depID)
		require.True(t, ok)
		assert.Equal(t, g.Root, parent)
	}

	_, ok := g.Parent(g.Root)
	assert.False(t, ok, "root must have no parent")
}
