package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileStore persists the processed set as a local flat file, one
// reference per line.
//
// Add appends a line; Remove rewrites the file with the reference
// filtered out; LoadAll reads and splits on line breaks, discarding
// empty lines. The file is created on first write.
//
// FileStore is for single-instance deployments. It serializes access
// within one process, but takes no filesystem lock: concurrent
// processes sharing one path would need external locking and are not
// supported.
type FileStore struct {
	mu   sync.Mutex
	path string

	// refs mirrors the file content once loaded, so Add can report
	// added-vs-present and Remove can rewrite without re-reading.
	refs   map[string]struct{}
	loaded bool
}

// NewFileStore creates a file store at path. The file is not touched
// until the first operation.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		refs: make(map[string]struct{}),
	}
}

// LoadAll reads the full set from disk. A missing file is an empty set,
// not an error.
func (s *FileStore) LoadAll(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(s.refs))
	for ref := range s.refs {
		out[ref] = struct{}{}
	}
	return out, nil
}

// Add appends ref to the file, reporting whether it was newly added.
func (s *FileStore) Add(_ context.Context, ref string) (bool, error) {
	ref = canonical(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return false, err
	}
	if _, exists := s.refs[ref]; exists {
		return false, nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open processed-set file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(ref + "\n"); err != nil {
		return false, fmt.Errorf("append to processed-set file: %w", err)
	}

	s.refs[ref] = struct{}{}
	return true, nil
}

// Remove rewrites the file with ref filtered out. Absent references are
// a no-op.
func (s *FileStore) Remove(_ context.Context, ref string) error {
	ref = canonical(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, exists := s.refs[ref]; !exists {
		return nil
	}

	delete(s.refs, ref)
	return s.rewriteLocked()
}

// Clear truncates the file and empties the set.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs = make(map[string]struct{})
	s.loaded = true
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		return fmt.Errorf("truncate processed-set file: %w", err)
	}
	return nil
}

// loadLocked populates refs from disk on first use. Must be called with
// the lock held.
func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read processed-set file: %w", err)
	}

	refs := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		line = canonical(line)
		if line == "" {
			continue
		}
		refs[line] = struct{}{}
	}

	s.refs = refs
	s.loaded = true
	return nil
}

// rewriteLocked writes the current set back to disk, one reference per
// line. Must be called with the lock held.
func (s *FileStore) rewriteLocked() error {
	var b strings.Builder
	for ref := range s.refs {
		b.WriteString(ref)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("rewrite processed-set file: %w", err)
	}
	return nil
}

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)
