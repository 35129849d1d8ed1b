package sourcecache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/models"
)

func TestEntryExistsAndVerifyHash(t *testing.T) {
	dir := t.TempDir()
	content := []byte("source tarball contents")
	sum := sha256.Sum256(content)
	digest := fmt.Sprintf("%x", sum)

	pkg := models.Package{
		Name:    "libfoo",
		Version: "1.0",
		Source:  models.SourceDescriptor{HashType: models.HashTypeSHA256, Digest: digest},
	}

	cache := New(dir)
	entry := cache.EntryFor(pkg)
	assert.Equal(t, filepath.Join(dir, "libfoo-1.0.source"), entry.Path())
	assert.False(t, entry.Exists())

	require.NoError(t, os.WriteFile(entry.Path(), content, 0644))
	assert.True(t, entry.Exists())

	ok, err := entry.VerifyHash()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyHashMismatch(t *testing.T) {
	dir := t.TempDir()
	pkg := models.Package{
		Name:    "libfoo",
		Version: "1.0",
		Source:  models.SourceDescriptor{HashType: models.HashTypeSHA256, Digest: "0000"},
	}
	cache := New(dir)
	entry := cache.EntryFor(pkg)
	require.NoError(t, os.WriteFile(entry.Path(), []byte("wrong content"), 0644))

	ok, err := entry.VerifyHash()
	require.Error(t, err)
	assert.False(t, ok)
}

func TestVerifyHashMismatchReportsDetectedContentType(t *testing.T) {
	dir := t.TempDir()
	pkg := models.Package{
		Name:    "libfoo",
		Version: "1.0",
		Source:  models.SourceDescriptor{HashType: models.HashTypeSHA256, Digest: "0000"},
	}
	cache := New(dir)
	entry := cache.EntryFor(pkg)
	// A gzip header (the magic bytes alone, regardless of payload) is
	// reliably sniffed by h2non/filetype.
	require.NoError(t, os.WriteFile(entry.Path(), []byte{0x1f, 0x8b, 0x08, 0x00}, 0644))

	ok, err := entry.VerifyHash()
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "gzip")
}
