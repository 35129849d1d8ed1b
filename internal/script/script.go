// Package script renders the build script butido hands to a container for
// one job: a shebang line followed by one section per configured phase,
// with the package's declared environment interpolated in. Rendering must
// be deterministic given the same inputs, since jobs.script_text doubles
// as a reuse key (spec.md §4.2). Grounded on original_source's
// package/phase.rs phase model and the ScriptBuilder referenced from
// find_artifacts.rs/build.rs.
package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
)

// Config carries the out-of-core configuration values that affect
// rendering (spec.md §6): the shebang line, the ordered list of phases a
// script may contain, and whether unset `${VAR}` interpolations are
// fatal.
type Config struct {
	Shebang                   string
	AvailablePhases           []models.PhaseName
	StrictScriptInterpolation bool
}

var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render builds the deterministic script text for pkg: the configured
// shebang, then one section per phase in AvailablePhases order (skipping
// phases the package does not declare), with ${VAR} references resolved
// against env (not pkg.Env) sorted by name.
func Render(cfg Config, pkg models.Package, env models.EnvSet) (string, error) {
	byName := make(map[models.PhaseName]models.PhaseScript, len(pkg.Phases))
	for _, p := range pkg.Phases {
		byName[p.Name] = p
	}

	var b strings.Builder
	b.WriteString(cfg.Shebang)
	b.WriteString("\n")

	sorted := env.Sorted()
	for _, phase := range cfg.AvailablePhases {
		declared, ok := byName[phase]
		if !ok {
			continue
		}
		interpolated, err := interpolate(declared.Text, sorted, cfg.StrictScriptInterpolation)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "# phase: %s\n%s\n", phase, interpolated)
	}
	return b.String(), nil
}

// RenderedPhase is one phase's text as it appears within a rendered script.
type RenderedPhase struct {
	Name   models.PhaseName
	Script string
}

// SplitPhases recovers the per-phase boundaries Render wrote into its
// output, so a runner can execute a rendered script one phase at a time
// (emitting a CurrentPhase marker before each). Relies on Render's exact
// "# phase: <name>" marker format; the two functions must be kept in sync.
func SplitPhases(rendered string) []RenderedPhase {
	lines := strings.Split(strings.TrimSuffix(rendered, "\n"), "\n")
	var phases []RenderedPhase
	var current *RenderedPhase
	for _, line := range lines {
		if name, ok := strings.CutPrefix(line, "# phase: "); ok {
			if current != nil {
				phases = append(phases, *current)
			}
			current = &RenderedPhase{Name: models.PhaseName(name)}
			continue
		}
		if current == nil {
			continue // shebang line, before the first phase marker
		}
		if current.Script != "" {
			current.Script += "\n"
		}
		current.Script += line
	}
	if current != nil {
		phases = append(phases, *current)
	}
	return phases
}

func interpolate(text string, env models.EnvSet, strict bool) (string, error) {
	var firstErr error
	out := interpolationPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := interpolationPattern.FindStringSubmatch(match)[1]
		value, ok := env.Get(name)
		if !ok {
			if strict && firstErr == nil {
				firstErr = gerror.NewErrConfigInvalid(fmt.Sprintf("unresolved script variable ${%s}", name))
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
