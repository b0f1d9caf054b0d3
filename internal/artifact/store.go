// Package artifact implements the storage plane: per-layer artifact
// stores, the quarantine area, and wild source files. Every published
// artifact is tagged with the execution id that produced it, and
// publication is atomic (write to a temp file, then rename) so a
// failed execution never leaves a partially written artifact behind.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarry-data/quarry/internal/manifest"
)

// QuarantineDir is the subdirectory artifacts failing a quality gate
// are routed to instead of their layer's primary store.
const QuarantineDir = "quarantine"

// Store is a filesystem-backed artifact store rooted at a single
// directory. Refs returned by Publish are slash-separated paths
// relative to the root.
type Store struct {
	root string
}

// NewStore creates an artifact store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Publish atomically writes an artifact into a layer's primary store.
// The artifact name carries the producing execution id, so repeated
// executions of the same manifest never overwrite each other.
//
// Returns the artifact ref: "{layer}/{agency}/{name}_{executionID}.json".
func (s *Store) Publish(layer manifest.Layer, agency, name, executionID string, data []byte) (string, error) {
	ref := path(string(layer), agency, taggedName(name, executionID))
	if err := s.writeAtomic(ref, data); err != nil {
		return "", fmt.Errorf("publish %s: %w", ref, err)
	}
	return ref, nil
}

// PublishQuarantine atomically writes an artifact into the quarantine
// area instead of the layer's primary store. Same naming as Publish.
func (s *Store) PublishQuarantine(layer manifest.Layer, agency, name, executionID string, data []byte) (string, error) {
	ref := path(QuarantineDir, string(layer), agency, taggedName(name, executionID))
	if err := s.writeAtomic(ref, data); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", ref, err)
	}
	return ref, nil
}

// WriteSource places a wild source file at the given ref. Used to
// seed source artifacts; the same atomic write as Publish.
func (s *Store) WriteSource(ref string, data []byte) error {
	if err := s.writeAtomic(ref, data); err != nil {
		return fmt.Errorf("write source %s: %w", ref, err)
	}
	return nil
}

// Read returns the contents of an artifact by ref.
func (s *Store) Read(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return data, nil
}

// Exists reports whether an artifact ref resolves to an existing file.
// The lineage tracer uses this to verify leaf source artifacts.
func (s *Store) Exists(ref string) bool {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(ref)))
	return err == nil && !info.IsDir()
}

// writeAtomic writes data via a temp file in the target directory
// followed by a rename. A reader can never observe a half-written
// artifact, and nothing is left behind on failure.
func (s *Store) writeAtomic(ref string, data []byte) error {
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	dir := filepath.Dir(full)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func taggedName(name, executionID string) string {
	return fmt.Sprintf("%s_%s.json", name, executionID)
}

func path(parts ...string) string {
	return strings.Join(parts, "/")
}
