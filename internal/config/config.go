// Package config loads and validates the out-of-core configuration
// spec.md §6 names. Grounded on original_source/src/config/not_validated.rs's
// two-stage "parse everything permissively, then Validate()" shape, loaded
// with spf13/viper the way bb/cmd/bb/commands/root.go reads its config
// file and environment overlays.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/mod/semver"

	"github.com/primeos-work/butido/internal/gerror"
)

// Version is this program's own version, checked against a configured
// compatibility requirement the way original_source/src/config/not_validated.rs
// checks its crate version against a semver::VersionReq.
const Version = "0.1.0"

var allowedScriptHighlightThemes = []string{
	"base16-ocean.dark",
	"base16-eighties.dark",
	"base16-mocha.dark",
	"base16-ocean.light",
	"InspiredGitHub",
	"Solarized (dark)",
	"Solarized (light)",
}

// DockerConfig carries the docker.* configuration keys spec.md §6 names.
type DockerConfig struct {
	Endpoints           []EndpointConfig `mapstructure:"endpoints"`
	Images              []string         `mapstructure:"images"`
	VerifyImagesPresent bool             `mapstructure:"verify_images_present"`
	DockerVersions      []string         `mapstructure:"docker_versions"`
	DockerAPIVersions   []string         `mapstructure:"docker_api_versions"`
}

// EndpointConfig describes one configured container host.
type EndpointConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

// NotValidatedConfig is every configuration value as parsed, before
// cross-field and filesystem checks have run: everything is zero-value
// until Validate() runs.
type NotValidatedConfig struct {
	Compatibility string `mapstructure:"compatibility"`

	LogDir string `mapstructure:"log_dir"`

	StrictScriptInterpolation bool `mapstructure:"strict_script_interpolation"`

	ShebangValue string `mapstructure:"shebang"`

	ReleasesDirectory string   `mapstructure:"releases_root"`
	ReleaseStores     []string `mapstructure:"release_stores"`
	StagingDirectory  string   `mapstructure:"staging"`
	SourceCacheRoot   string   `mapstructure:"source_cache"`

	AvailablePhases []string `mapstructure:"available_phases"`

	Docker DockerConfig `mapstructure:"docker"`

	ScriptHighlightTheme string `mapstructure:"script_highlight_theme"`
	ScriptLinter         string `mapstructure:"script_linter"`

	BuildErrorLines int `mapstructure:"build_error_lines"`

	LogLevels string `mapstructure:"log_levels"`
}

// Load reads configuration from path (if non-empty) plus environment
// variables prefixed BUTIDO_, applying the same defaults
// original_source/src/config/not_validated.rs hardcodes for optional
// fields.
func Load(path string) (*NotValidatedConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("BUTIDO")
	v.AutomaticEnv()

	v.SetDefault("strict_script_interpolation", true)
	v.SetDefault("shebang", "#!/bin/bash")
	v.SetDefault("build_error_lines", 10)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("error reading config file %s: %v", path, err))
		}
	}

	var cfg NotValidatedConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("error parsing configuration: %v", err))
	}
	return &cfg, nil
}

// Config is configuration that has passed Validate(): every directory is
// known to exist, every required list is non-empty, and every enumerated
// value is in its allowed set.
type Config struct {
	LogDir string

	StrictScriptInterpolation bool
	Shebang                   string

	ReleasesDirectory string
	ReleaseStores     []string
	StagingDirectory  string
	SourceCacheRoot   string

	AvailablePhases []string

	Docker DockerConfig

	ScriptHighlightTheme string
	ScriptLinter         string

	BuildErrorLines int

	LogLevels string
}

// Validate checks cross-field and filesystem invariants spec.md §6
// requires: all directories must exist, empty required lists are fatal,
// enumerated values must be in their fixed sets.
func (c *NotValidatedConfig) Validate() (*Config, error) {
	if c.Compatibility != "" {
		ok, err := satisfiesCompatibility(c.Compatibility, Version)
		if err != nil {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("error parsing compatibility requirement %q: %v", c.Compatibility, err))
		}
		if !ok {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("configuration requires butido %s, running %s", c.Compatibility, Version))
		}
	}

	if c.ScriptLinter != "" {
		info, err := os.Stat(c.ScriptLinter)
		if err != nil || info.IsDir() {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("script_linter %q is not a regular file", c.ScriptLinter))
		}
	}

	for _, dir := range []struct{ name, path string }{
		{"staging", c.StagingDirectory},
		{"releases_root", c.ReleasesDirectory},
		{"source_cache", c.SourceCacheRoot},
	} {
		if dir.path == "" {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("%s must be set", dir.name))
		}
		info, err := os.Stat(dir.path)
		if err != nil || !info.IsDir() {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("%s %q must be an existing directory", dir.name, dir.path))
		}
	}

	if len(c.ReleaseStores) == 0 {
		return nil, gerror.NewErrConfigInvalid("release_stores must be non-empty")
	}
	if len(c.AvailablePhases) == 0 {
		return nil, gerror.NewErrConfigInvalid("available_phases must be non-empty")
	}

	if c.ScriptHighlightTheme != "" && !contains(allowedScriptHighlightThemes, c.ScriptHighlightTheme) {
		return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("script_highlight_theme %q is not one of the allowed themes", c.ScriptHighlightTheme))
	}

	if c.BuildErrorLines < 0 {
		return nil, gerror.NewErrConfigInvalid("build_error_lines must not be negative")
	}

	if c.LogDir != "" {
		info, err := os.Stat(c.LogDir)
		if err != nil || !info.IsDir() {
			return nil, gerror.NewErrConfigInvalid(fmt.Sprintf("log_dir %q must be an existing directory", c.LogDir))
		}
	}

	return &Config{
		LogDir:                    c.LogDir,
		StrictScriptInterpolation: c.StrictScriptInterpolation,
		Shebang:                   c.ShebangValue,
		ReleasesDirectory:         c.ReleasesDirectory,
		ReleaseStores:             c.ReleaseStores,
		StagingDirectory:          c.StagingDirectory,
		SourceCacheRoot:           c.SourceCacheRoot,
		AvailablePhases:           c.AvailablePhases,
		Docker:                    c.Docker,
		ScriptHighlightTheme:      c.ScriptHighlightTheme,
		ScriptLinter:              c.ScriptLinter,
		BuildErrorLines:           c.BuildErrorLines,
		LogLevels:                 c.LogLevels,
	}, nil
}

// satisfiesCompatibility checks a configured compatibility requirement
// against the running version. It supports the predicate shapes
// "*", "=X", ">X" and ">=X" -- a deliberately narrower grammar than the
// cargo semver crate's comma-separated VersionReq, sufficient for gating a
// single program version against a config file.
func satisfiesCompatibility(requirement, version string) (bool, error) {
	req := strings.TrimSpace(requirement)
	if req == "*" {
		return true, nil
	}

	v := canonicalizeSemver(version)
	if !semver.IsValid(v) {
		return false, fmt.Errorf("running version %q is not valid semver", version)
	}

	var op string
	var want string
	switch {
	case strings.HasPrefix(req, ">="):
		op, want = ">=", req[2:]
	case strings.HasPrefix(req, ">"):
		op, want = ">", req[1:]
	case strings.HasPrefix(req, "="):
		op, want = "=", req[1:]
	default:
		op, want = "=", req
	}

	w := canonicalizeSemver(strings.TrimSpace(want))
	if !semver.IsValid(w) {
		return false, fmt.Errorf("requirement version %q is not valid semver", want)
	}

	cmp := semver.Compare(v, w)
	switch op {
	case "=":
		return cmp == 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unrecognized compatibility operator %q", op)
	}
}

func canonicalizeSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func contains(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}
