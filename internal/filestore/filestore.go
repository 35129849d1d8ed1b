// Package filestore implements the staging and release artifact stores
// spec.md §4.5 describes: a root directory indexed on load, with
// membership and escape-safe join operations. Grounded on
// original_source/src/filestore/release.rs's StoreRoot-plus-FileStoreImpl
// shape; the directory walk itself is plain filepath.WalkDir rather than
// any third-party walker, since nothing in the surrounding codebase reaches
// for one for this kind of local filesystem indexing.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/primeos-work/butido/internal/gerror"
)

// StoreRoot is an absolute directory that must exist for the process's
// lifetime.
type StoreRoot string

func NewStoreRoot(path string) (StoreRoot, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("error resolving store root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("error store root %s does not exist: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("error store root %s is not a directory", abs)
	}
	return StoreRoot(abs), nil
}

func (r StoreRoot) String() string { return string(r) }

// ArtifactPath is a path relative to some StoreRoot; it must not contain
// ".." segments or be absolute.
type ArtifactPath string

// NewArtifactPath validates and normalizes p into an ArtifactPath.
func NewArtifactPath(p string) (ArtifactPath, error) {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("error artifact path %q must not be absolute", p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("error artifact path %q escapes its store root", p)
	}
	return ArtifactPath(clean), nil
}

func (p ArtifactPath) String() string { return string(p) }

// FullArtifactPath is a StoreRoot joined with an ArtifactPath: an
// ephemeral, fully resolved filesystem path.
type FullArtifactPath string

func (p FullArtifactPath) String() string { return string(p) }

// Join resolves path against root, rejecting any normalized result that
// would escape root (spec.md §8 invariant 6).
func Join(root StoreRoot, path ArtifactPath) (FullArtifactPath, error) {
	full := filepath.Join(string(root), string(path))
	rel, err := filepath.Rel(string(root), full)
	if err != nil {
		return "", fmt.Errorf("error resolving path relative to store root: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("error path %q escapes store root %q", path, root)
	}
	return FullArtifactPath(full), nil
}

// Store indexes every regular file under a root by its path relative to
// the root. Staging stores additionally support Add, appending newly
// produced artifacts after a job completes; release stores are read-only
// to the core and callers must not call Add on one.
type Store struct {
	root     StoreRoot
	mu       sync.RWMutex
	present  map[ArtifactPath]struct{}
	writable bool
}

// Load walks root and indexes every regular file found under it.
func Load(root StoreRoot, writable bool) (*Store, error) {
	present := make(map[ArtifactPath]struct{})
	err := filepath.WalkDir(string(root), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(string(root), path)
		if err != nil {
			return err
		}
		present[ArtifactPath(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, gerror.WrapErrLogIO(fmt.Sprintf("error indexing store root %s", root), err)
	}
	return &Store{root: root, present: present, writable: writable}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() StoreRoot { return s.root }

// Get reports whether path is indexed in the store, returning the path
// unchanged for symmetry with the original Option<ArtifactPath> contract.
func (s *Store) Get(path ArtifactPath) (ArtifactPath, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.present[path]
	return path, ok
}

// FullPath resolves path against this store's root.
func (s *Store) FullPath(path ArtifactPath) (FullArtifactPath, error) {
	return Join(s.root, path)
}

// Add records a newly written artifact in the index. Only valid for
// writable (staging) stores.
func (s *Store) Add(path ArtifactPath) error {
	if !s.writable {
		return fmt.Errorf("error store at %s is read-only", s.root)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[path] = struct{}{}
	return nil
}

// Writable reports whether Add is permitted on this store.
func (s *Store) Writable() bool { return s.writable }
