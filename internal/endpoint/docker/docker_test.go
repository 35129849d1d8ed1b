package docker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/buildlog"
	"github.com/primeos-work/butido/internal/endpoint"
	"github.com/primeos-work/butido/internal/models"
)

func TestEnvStringsIsSortedAndFormatted(t *testing.T) {
	env := models.EnvSet{{Name: "B", Value: "2"}, {Name: "A", Value: "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, envStrings(env))
}

func TestContainerHashIsDeterministic(t *testing.T) {
	req := endpoint.RunRequest{
		Image:  "alpine:3.18",
		Script: "#!/bin/sh\necho hi\n",
		Env:    models.EnvSet{{Name: "A", Value: "1"}},
	}
	first := containerHash(req)
	second := containerHash(req)
	assert.Equal(t, first, second)

	req.Script = "#!/bin/sh\necho bye\n"
	assert.NotEqual(t, first, containerHash(req))
}

func TestCollectArtifactsWalksStagingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.tar"), []byte("y"), 0644))

	paths, err := collectArtifacts(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.tar", filepath.Join("sub", "b.tar")}, paths)
}

func TestCollectArtifactsMissingDirIsEmpty(t *testing.T) {
	paths, err := collectArtifacts(filepath.Join(t.TempDir(), "gone"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLineWriterSplitsOnNewlineAcrossWrites(t *testing.T) {
	items := make(chan buildlog.LogItem, 8)
	var buf strings.Builder
	w := lineWriter{&buf, items}

	_, err := w.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = w.Write([]byte("lo\nworld\npart"))
	require.NoError(t, err)
	close(items)

	var lines []string
	for item := range items {
		lines = append(lines, item.Line)
	}
	assert.Equal(t, []string{"hello", "world"}, lines)
	assert.Equal(t, "part", buf.String(), "a trailing fragment without a newline must be held back")
}

func TestContainsHelper(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains([]string{"a", "b"}, "c"))
}
