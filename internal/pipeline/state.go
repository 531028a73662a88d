package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// stateEntry is the persisted record for one processed content hash.
type stateEntry struct {
	ContentDigest string    `json:"content_digest"`
	OutputLocator string    `json:"output_locator,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type stateFile struct {
	Stage     string                `json:"stage"`
	UpdatedAt time.Time             `json:"updated_at"`
	Entries   map[string]stateEntry `json:"entries"`
}

// StateStore is the persisted hash index for one pipeline stage. Stages never
// share a store: one file per stage under <data>/state/.
type StateStore struct {
	stage   string
	path    string
	entries map[string]stateEntry
	bypass  bool
	dirty   bool
}

// StatePath returns the state file location for a stage.
func StatePath(dataDir, stage string) string {
	return filepath.Join(dataDir, "state", stage+".json")
}

// OpenState loads a stage's state file from disk, or starts an empty one.
func OpenState(dataDir, stage string) (*StateStore, error) {
	s := &StateStore{
		stage:   stage,
		path:    StatePath(dataDir, stage),
		entries: make(map[string]stateEntry),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if f.Entries != nil {
		s.entries = f.Entries
	}
	return s, nil
}

// Has reports whether hash was already processed by this stage. Under force
// bypass it always reports false, without touching the underlying store.
func (s *StateStore) Has(hash string) bool {
	if s.bypass {
		return false
	}
	_, ok := s.entries[hash]
	return ok
}

// Record marks a hash processed. Calling it twice with identical arguments is
// a no-op; calling it twice with the same hash but a different content digest
// fails with StateConflictError. Under force bypass a differing digest
// overwrites instead: force means the caller chose to reprocess.
func (s *StateStore) Record(hash, contentDigest, outputLocator string) error {
	if existing, ok := s.entries[hash]; ok && !s.bypass {
		if existing.ContentDigest != contentDigest {
			return &StateConflictError{
				Stage:    s.stage,
				Hash:     hash,
				Existing: existing.ContentDigest,
				Incoming: contentDigest,
			}
		}
		return nil
	}
	s.entries[hash] = stateEntry{
		ContentDigest: contentDigest,
		OutputLocator: outputLocator,
		ProcessedAt:   time.Now().UTC(),
	}
	s.dirty = true
	return nil
}

// Clear wipes all records for this stage and flushes immediately. Other
// stages' stores are unaffected.
func (s *StateStore) Clear() error {
	s.entries = make(map[string]stateEntry)
	s.dirty = true
	return s.Flush()
}

// ForceBypass makes Has report false for the rest of this run, enabling full
// reprocessing while preserving history.
func (s *StateStore) ForceBypass() {
	s.bypass = true
}

// Len returns the number of recorded hashes.
func (s *StateStore) Len() int {
	return len(s.entries)
}

// Hashes returns the recorded hashes in sorted order.
func (s *StateStore) Hashes() []string {
	out := make([]string, 0, len(s.entries))
	for h := range s.entries {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Stage returns the stage name this store belongs to.
func (s *StateStore) Stage() string { return s.stage }

// Flush persists the store durably. The file is written to a temp path and
// renamed so a crash mid-write cannot corrupt the index.
func (s *StateStore) Flush() error {
	if !s.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}

	data, err := json.MarshalIndent(stateFile{
		Stage:     s.stage,
		UpdatedAt: time.Now().UTC(),
		Entries:   s.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	s.dirty = false
	return nil
}
