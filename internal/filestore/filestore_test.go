package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.tar"), []byte("b"), 0644))

	root, err := NewStoreRoot(dir)
	require.NoError(t, err)

	store, err := Load(root, true)
	require.NoError(t, err)

	_, ok := store.Get(ArtifactPath("a.tar"))
	assert.True(t, ok)
	_, ok = store.Get(ArtifactPath(filepath.Join("sub", "b.tar")))
	assert.True(t, ok)
	_, ok = store.Get(ArtifactPath("missing.tar"))
	assert.False(t, ok)
}

func TestJoinRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	root, err := NewStoreRoot(dir)
	require.NoError(t, err)

	_, err = Join(root, ArtifactPath("../../etc/passwd"))
	assert.Error(t, err, "StoreRoot.join must reject a normalized path escaping the root")

	_, err = NewArtifactPath("../escape")
	assert.Error(t, err)

	_, err = NewArtifactPath("/absolute")
	assert.Error(t, err)

	p, err := NewArtifactPath("a/./b")
	require.NoError(t, err)
	assert.Equal(t, ArtifactPath(filepath.Join("a", "b")), p)
}

func TestStagingStoreAddThenGet(t *testing.T) {
	dir := t.TempDir()
	root, err := NewStoreRoot(dir)
	require.NoError(t, err)

	store, err := Load(root, true)
	require.NoError(t, err)

	_, ok := store.Get("new.tar")
	assert.False(t, ok)

	require.NoError(t, store.Add("new.tar"))
	_, ok = store.Get("new.tar")
	assert.True(t, ok)
}

func TestReleaseStoreRejectsAdd(t *testing.T) {
	dir := t.TempDir()
	root, err := NewStoreRoot(dir)
	require.NoError(t, err)

	store, err := Load(root, false)
	require.NoError(t, err)

	err = store.Add("new.tar")
	assert.Error(t, err)
}
