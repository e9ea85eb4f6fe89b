package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"DCAKeeper/internal/model"
)

const maxFileEvents = 5000

// fileState is the on-disk layout of the JSON store.
type fileState struct {
	Schedules map[string]model.Schedule `json:"schedules"`
	Balances  map[string]uint64         `json:"balances"`
	Stats     model.Stats               `json:"stats"`
	Tick      uint64                    `json:"tick"`
	Events    []model.Event             `json:"events"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// JSONStore keeps the whole state in a single JSON file, rewritten on every commit.
type JSONStore struct {
	mu       sync.Mutex
	filePath string
	snap     *Snapshot
	events   []model.Event
	log      zerolog.Logger
}

// OpenJSON loads the state file, or starts empty if it doesn't exist.
func OpenJSON(filePath string, log zerolog.Logger) (*JSONStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("storage path is required for json driver")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	s := &JSONStore{filePath: filePath, snap: NewSnapshot(), log: log}

	data, err := os.ReadFile(filePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(data) > 0 {
		var st fileState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		if st.Schedules != nil {
			s.snap.Schedules = st.Schedules
		}
		if st.Balances != nil {
			s.snap.Balances = st.Balances
		}
		s.snap.Stats = st.Stats
		s.snap.Tick = st.Tick
		s.events = st.Events
	}
	log.Info().Str("path", filePath).Int("schedules", len(s.snap.Schedules)).Msg("json store opened")
	return s, nil
}

func (s *JSONStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone(), nil
}

func (s *JSONStore) Commit(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.clone()
	next.Apply(b)
	events := append(append([]model.Event(nil), s.events...), b.Event)
	if len(events) > maxFileEvents {
		events = events[len(events)-maxFileEvents:]
	}

	if err := s.write(next, events); err != nil {
		return err
	}
	s.snap = next
	s.events = events
	return nil
}

func (s *JSONStore) SaveTick(_ context.Context, tick uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick <= s.snap.Tick {
		return nil
	}
	next := s.snap.clone()
	next.Tick = tick
	if err := s.write(next, s.events); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *JSONStore) History(_ context.Context, owner string, limit int) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterHistory(s.events, owner, limit), nil
}

func (s *JSONStore) Close() error { return nil }

// write replaces the state file atomically via a temp file and rename.
func (s *JSONStore) write(snap *Snapshot, events []model.Event) error {
	data, err := json.MarshalIndent(fileState{
		Schedules: snap.Schedules,
		Balances:  snap.Balances,
		Stats:     snap.Stats,
		Tick:      snap.Tick,
		Events:    events,
		UpdatedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
