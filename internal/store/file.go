package store

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// fileSnapshot is the on-disk layout.
type fileSnapshot struct {
	Positions map[string]Snapshot
	Totals    *Totals
	SavedAt   time.Time
}

// FileStore keeps every snapshot in one gob file, rewritten atomically
// (temp file then rename) on each change.
type FileStore struct {
	path string

	mu        sync.Mutex
	positions map[string]Snapshot
	totals    *Totals
}

// OpenFile loads path if it exists. A missing or empty file starts fresh.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, positions: make(map[string]Snapshot)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("store: no snapshot found, starting fresh")
			return s, nil
		}
		return nil, fmt.Errorf("store: open snapshot: %w", err)
	}
	defer f.Close()

	var snap fileSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			log.Warn().Str("path", path).Msg("store: empty snapshot, starting fresh")
			return s, nil
		}
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	if snap.Positions != nil {
		s.positions = snap.Positions
	}
	s.totals = snap.Totals

	log.Info().
		Int("positions", len(s.positions)).
		Time("saved_at", snap.SavedAt).
		Str("path", path).
		Msg("store: snapshot loaded")
	return s, nil
}

func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[snap.Token] = snap
	return s.flushLocked()
}

func (s *FileStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[token]; !ok {
		return nil
	}
	delete(s.positions, token)
	return s.flushLocked()
}

// LoadAll returns the snapshots ordered by open time.
func (s *FileStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *FileStore) SaveTotals(ctx context.Context, t Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = &t
	return s.flushLocked()
}

func (s *FileStore) LoadTotals(ctx context.Context) (Totals, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totals == nil {
		return Totals{}, false, nil
	}
	return *s.totals, true, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: create snapshot dir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create snapshot file: %w", err)
	}

	snap := fileSnapshot{Positions: s.positions, Totals: s.totals, SavedAt: time.Now()}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename snapshot: %w", err)
	}
	return nil
}
