package statestore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

// Store owns atomic read/write of the single JSON state document
// (spec.md §4.B). It is the only writer; readers elsewhere (diagnostic
// tools) only ever see a complete, renamed-into-place file.
type Store struct {
	path   string
	logger *slog.Logger
}

// New returns a Store backed by the JSON file at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the document, returning a deep-copied, ready-to-mutate
// value. A missing or corrupt file is not an error to the caller: it
// logs and returns a freshly initialized document, per spec.md §4.B
// ("never raise beyond the reconciler").
func (s *Store) Load() *Document {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state store: read failed, using fresh document", "path", s.path, "error", err)
		}
		return NewDocument()
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("state store: corrupt document, using fresh document", "path", s.path, "error", err)
		return NewDocument()
	}
	return doc.Clone()
}

// Save serializes doc and atomically replaces the state file: write to
// a sibling temp file, fsync, rename over the destination (spec.md
// §4.B). Returns orcherrors.StatePersistFailed on any step's failure.
func (s *Store) Save(doc *Document) error {
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = CurrentSchemaVersion
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: mkdir %s: %w", filepath.Dir(s.path), err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: marshal: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: open temp file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return orcherrors.Wrapf(orcherrors.StatePersistFailed, "state store: rename into place: %w", err)
	}
	return nil
}

// Path returns the underlying state file path.
func (s *Store) Path() string { return s.path }
