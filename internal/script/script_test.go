package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/models"
)

func testPackage() models.Package {
	return models.Package{
		Name:    "libfoo",
		Version: "1.0",
		Phases: []models.PhaseScript{
			{Name: "prepare", Text: "tar xf ${SRC}"},
			{Name: "build", Text: "make -j${JOBS}"},
			{Name: "install", Text: "make install"},
		},
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	cfg := Config{
		Shebang:         "#!/bin/sh",
		AvailablePhases: []models.PhaseName{"prepare", "build", "install"},
	}
	env := models.EnvSet{{Name: "JOBS", Value: "4"}, {Name: "SRC", Value: "src.tar"}}

	first, err := Render(cfg, testPackage(), env)
	require.NoError(t, err)
	second, err := Render(cfg, testPackage(), env.Sorted())
	require.NoError(t, err)
	assert.Equal(t, first, second, "rendering must not depend on env ordering")

	assert.Contains(t, first, "tar xf src.tar")
	assert.Contains(t, first, "make -j4")
}

func TestRenderSkipsUndeclaredPhases(t *testing.T) {
	cfg := Config{Shebang: "#!/bin/sh", AvailablePhases: []models.PhaseName{"prepare", "check", "build", "install"}}
	out, err := Render(cfg, testPackage(), nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "phase: check")
}

func TestRenderStrictInterpolationFailsOnUnsetVariable(t *testing.T) {
	cfg := Config{
		Shebang:                   "#!/bin/sh",
		AvailablePhases:           []models.PhaseName{"prepare"},
		StrictScriptInterpolation: true,
	}
	_, err := Render(cfg, testPackage(), nil)
	assert.Error(t, err)
}

func TestRenderNonStrictLeavesUnsetVariableLiteral(t *testing.T) {
	cfg := Config{Shebang: "#!/bin/sh", AvailablePhases: []models.PhaseName{"prepare"}}
	out, err := Render(cfg, testPackage(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "${SRC}")
}

func TestSplitPhasesRoundTripsRenderOutput(t *testing.T) {
	cfg := Config{Shebang: "#!/bin/sh", AvailablePhases: []models.PhaseName{"prepare", "build", "install"}}
	env := models.EnvSet{{Name: "JOBS", Value: "4"}, {Name: "SRC", Value: "src.tar"}}
	rendered, err := Render(cfg, testPackage(), env)
	require.NoError(t, err)

	phases := SplitPhases(rendered)
	require.Len(t, phases, 3)
	assert.Equal(t, models.PhaseName("prepare"), phases[0].Name)
	assert.Equal(t, "tar xf src.tar", phases[0].Script)
	assert.Equal(t, models.PhaseName("build"), phases[1].Name)
	assert.Equal(t, "make -j4", phases[1].Script)
	assert.Equal(t, models.PhaseName("install"), phases[2].Name)
	assert.Equal(t, "make install", phases[2].Script)
}
