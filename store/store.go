// Package store manages the on-disk layout of synchronized checkpoint
// versions. Each version v lives in its own directory step_<v> holding the
// payload file and, once a fetch fully completed, a zero-byte stable marker.
// Consumers must treat the marker as the only signal that a version is safe
// to load.
package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/shardsyncio/go-shardsync/common/types"
)

const (
	// PayloadFile is the artifact file name inside a version directory.
	PayloadFile = "model.safetensors"
	// MarkerFile is the stable marker name inside a version directory.
	MarkerFile = "stable"

	stepPrefix = "step_"

	dirPerm  = 0o700
	filePerm = 0o600
)

// RemoveStatus reports the outcome of a best-effort removal.
type RemoveStatus int

const (
	// Removed means at least one of payload and marker existed and was deleted.
	Removed RemoveStatus = iota
	// NotFound means neither payload nor marker existed.
	NotFound
)

// Store keeps checkpoint artifacts under a single root directory. It is the
// only writer of that directory.
type Store struct {
	fs   afero.Fs
	root string
}

type Opt func(*Store)

func WithFilesystem(fs afero.Fs) Opt {
	return func(s *Store) {
		s.fs = fs
	}
}

func New(root string, opts ...Opt) *Store {
	s := &Store{
		fs:   afero.NewOsFs(),
		root: root,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding version v.
func (s *Store) Dir(v types.Version) string {
	return filepath.Join(s.root, stepPrefix+strconv.FormatInt(int64(v), 10))
}

// PayloadPath returns the destination path for the payload of version v.
func (s *Store) PayloadPath(v types.Version) string {
	return filepath.Join(s.Dir(v), PayloadFile)
}

func (s *Store) markerPath(v types.Version) string {
	return filepath.Join(s.Dir(v), MarkerFile)
}

// Stable reports whether version v carries a stable marker.
func (s *Store) Stable(v types.Version) (bool, error) {
	exists, err := afero.Exists(s.fs, s.markerPath(v))
	if err != nil {
		return false, fmt.Errorf("stat marker for version %s: %w", v, err)
	}
	return exists, nil
}

// MarkStable writes the stable marker for version v. It must be called only
// after the payload was fully fetched; the marker write itself is a single
// zero-byte file creation, so a crash before it leaves the version unstable.
func (s *Store) MarkStable(v types.Version) error {
	if err := s.fs.MkdirAll(s.Dir(v), dirPerm); err != nil {
		return fmt.Errorf("create version dir %v: %w", s.Dir(v), err)
	}
	if err := afero.WriteFile(s.fs, s.markerPath(v), nil, filePerm); err != nil {
		return fmt.Errorf("write marker for version %s: %w", v, err)
	}
	return nil
}

// Remove deletes the payload and marker of version v as two independent
// best-effort removals. The marker goes first so that an interrupted removal
// never leaves a payload-less version that still looks stable. A missing
// version, including a negative identifier produced by retention underflow,
// is the NotFound outcome, never an error.
func (s *Store) Remove(v types.Version) (RemoveStatus, error) {
	removed := 0
	var firstErr error
	for _, path := range []string{s.markerPath(v), s.PayloadPath(v)} {
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("stat %v: %w", path, err)
			}
			continue
		}
		if !exists {
			continue
		}
		if err := s.fs.Remove(path); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %v: %w", path, err)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		// leftover empty dir is cosmetic, ignore failures
		_ = s.fs.Remove(s.Dir(v))
		return Removed, firstErr
	}
	if firstErr != nil {
		return NotFound, firstErr
	}
	return NotFound, nil
}

// StableVersions scans the root for versions carrying a stable marker,
// ascending. It is how a restarted process rebuilds its view of local state.
func (s *Store) StableVersions() ([]types.Version, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root %v: %w", s.root, err)
	}
	var versions []types.Version
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		suffix, found := strings.CutPrefix(entry.Name(), stepPrefix)
		if !found {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		stable, err := s.Stable(types.Version(n))
		if err != nil {
			return nil, err
		}
		if stable {
			versions = append(versions, types.Version(n))
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
