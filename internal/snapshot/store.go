// Package snapshot implements the bounded, file-backed store of presentation
// snapshots shared with out-of-process display surfaces.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
)

const DefaultLimit = 20

// Store keeps at most limit snapshots, most recently updated first. The whole
// collection is rewritten atomically on every change so a concurrent reader
// never observes a partial file.
type Store struct {
	path  string
	limit int

	mu sync.Mutex
}

func NewStore(path string, limit int) *Store {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	return &Store{path: path, limit: limit}
}

func (s *Store) Path() string { return s.path }

// Save replaces any entry for the same fixture, re-sorts and truncates.
func (s *Store) Save(p Presentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := Read(s.path)
	next := make([]Presentation, 0, len(current)+1)
	for _, existing := range current {
		if existing.FixtureID != p.FixtureID {
			next = append(next, existing)
		}
	}
	next = append(next, p)
	sortByRecency(next)
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	return s.write(next)
}

// Snapshots returns the stored entries sorted by LastUpdated descending.
func (s *Store) Snapshots() []Presentation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Read(s.path)
	sortByRecency(out)
	return out
}

// Prune drops every snapshot whose fixture is not in keep.
func (s *Store) Prune(keep map[int]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := Read(s.path)
	next := current[:0]
	for _, p := range current {
		if _, ok := keep[p.FixtureID]; ok {
			next = append(next, p)
		}
	}
	sortByRecency(next)
	return s.write(next)
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot file: %w", err)
	}
	return nil
}

func (s *Store) write(entries []Presentation) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Read loads snapshots from path. A missing or undecodable file yields an
// empty result; a legacy single-object file yields one entry.
func Read(path string) []Presentation {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to read snapshot file", zap.String("path", path), zap.Error(err))
		}
		return []Presentation{}
	}
	entries, err := decode(data)
	if err != nil {
		log.Warn("Discarding undecodable snapshot file", zap.String("path", path), zap.Error(err))
		return []Presentation{}
	}
	return entries
}

func decode(data []byte) ([]Presentation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Presentation{}, nil
	}

	switch data[0] {
	case '[':
		var entries []Presentation
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []Presentation{}
		}
		return entries, nil
	case '{':
		var legacy Presentation
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, err
		}
		if legacy.FixtureID == 0 {
			return nil, errors.New("legacy snapshot without fixture id")
		}
		return []Presentation{legacy}, nil
	default:
		return nil, errors.New("unrecognised snapshot format")
	}
}

func sortByRecency(entries []Presentation) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastUpdated.After(entries[j].LastUpdated)
	})
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}
