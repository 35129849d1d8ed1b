package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/models"
)

func TestParseDependency(t *testing.T) {
	name, constraint, err := ParseDependency("vim =8.2")
	require.NoError(t, err)
	assert.Equal(t, models.PackageName("vim"), name)
	assert.Equal(t, models.ExactVersion("8.2"), constraint)

	name, constraint, err = ParseDependency("gtk15 >1b")
	require.NoError(t, err)
	assert.Equal(t, models.PackageName("gtk15"), name)
	assert.Equal(t, models.HigherThanVersion("1b"), constraint)

	name, constraint, err = ParseDependency("zlib *")
	require.NoError(t, err)
	assert.Equal(t, models.PackageName("zlib"), name)
	assert.Equal(t, models.WildcardVersion(), constraint)

	_, _, err = ParseDependency("not a dependency")
	assert.Error(t, err)
}

func TestResolveExactlyOneRequiresUniqueMatch(t *testing.T) {
	repo := NewMemoryRepository([]models.Package{
		{Name: "libfoo", Version: "1.0"},
		{Name: "libfoo", Version: "2.0"},
	})

	_, err := ResolveExactlyOne(repo, "libfoo", models.WildcardVersion())
	assert.Error(t, err, "wildcard matching two packages must be a fatal resolution error")

	_, err = ResolveExactlyOne(repo, "missing", models.WildcardVersion())
	assert.Error(t, err, "zero matches must be a fatal resolution error")

	pkg, err := ResolveExactlyOne(repo, "libfoo", models.ExactVersion("2.0"))
	require.NoError(t, err)
	assert.Equal(t, models.PackageVersion("2.0"), pkg.Version)
}

func TestLoadYAML(t *testing.T) {
	doc := `
packages:
  - name: libfoo
    version: "1.0"
    hash: deadbeef
    env:
      - "A=1"
    allowed_images: ["alpine:3.19"]
    build_dependencies: ["libbar =1.0"]
    phases:
      - name: prepare
        script: "echo prepare"
      - name: build
        script: "echo build"
      - name: install
        script: "echo install"
  - name: libbar
    version: "1.0"
    hash: cafef00d
`
	repo, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	matches := repo.Find("libfoo", "1.0")
	require.Len(t, matches, 1)
	pkg := matches[0]
	assert.Equal(t, models.ImageName("alpine:3.19"), pkg.AllowedImages[0])
	require.Len(t, pkg.BuildDependencies, 1)
	assert.Equal(t, models.PackageName("libbar"), pkg.BuildDependencies[0].Name)
	assert.Equal(t, models.ExactVersion("1.0"), pkg.BuildDependencies[0].Constraint)
	require.Len(t, pkg.Env, 1)
	assert.Equal(t, "A", pkg.Env[0].Name)
}
