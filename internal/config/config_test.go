package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase(t *testing.T) NotValidatedConfig {
	t.Helper()
	dir := t.TempDir()
	return NotValidatedConfig{
		StagingDirectory:     dir,
		ReleasesDirectory:    dir,
		SourceCacheRoot:      dir,
		ReleaseStores:        []string{"main"},
		AvailablePhases:      []string{"unpack", "build", "install"},
		ScriptHighlightTheme: "base16-ocean.dark",
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	raw := validBase(t)
	cfg, err := raw.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, cfg.ReleaseStores)
}

func TestValidateRejectsMissingDirectory(t *testing.T) {
	raw := validBase(t)
	raw.StagingDirectory = filepath.Join(t.TempDir(), "does-not-exist")
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsEmptyReleaseStores(t *testing.T) {
	raw := validBase(t)
	raw.ReleaseStores = nil
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsEmptyAvailablePhases(t *testing.T) {
	raw := validBase(t)
	raw.AvailablePhases = nil
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownHighlightTheme(t *testing.T) {
	raw := validBase(t)
	raw.ScriptHighlightTheme = "nonexistent-theme"
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsNegativeBuildErrorLines(t *testing.T) {
	raw := validBase(t)
	raw.BuildErrorLines = -1
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsScriptLinterDirectory(t *testing.T) {
	raw := validBase(t)
	raw.ScriptLinter = t.TempDir()
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateAcceptsScriptLinterFile(t *testing.T) {
	raw := validBase(t)
	linter := filepath.Join(t.TempDir(), "lint.sh")
	require.NoError(t, os.WriteFile(linter, []byte("#!/bin/sh"), 0755))
	raw.ScriptLinter = linter
	_, err := raw.Validate()
	require.NoError(t, err)
}

func TestValidateAcceptsCompatibleWildcard(t *testing.T) {
	raw := validBase(t)
	raw.Compatibility = "*"
	_, err := raw.Validate()
	require.NoError(t, err)
}

func TestValidateRejectsIncompatibleVersion(t *testing.T) {
	raw := validBase(t)
	raw.Compatibility = ">=9.0.0"
	_, err := raw.Validate()
	assert.Error(t, err)
}

func TestValidateAcceptsSatisfiedMinimumVersion(t *testing.T) {
	raw := validBase(t)
	raw.Compatibility = ">=0.1.0"
	_, err := raw.Validate()
	require.NoError(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	raw, err := Load("")
	require.NoError(t, err)
	assert.True(t, raw.StrictScriptInterpolation)
	assert.Equal(t, "#!/bin/bash", raw.ShebangValue)
	assert.Equal(t, 10, raw.BuildErrorLines)
}
