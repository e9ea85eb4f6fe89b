// Package store persists schedules, balances, global stats and the event history.
//
// Every mutating operation of the plan service is written as one Batch. A Commit either
// persists the whole batch or nothing, so a failed commit leaves stored state unchanged.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"DCAKeeper/internal/model"
)

// Snapshot is the full persisted state, loaded once at startup.
type Snapshot struct {
	Schedules map[string]model.Schedule
	Balances  map[string]uint64
	Stats     model.Stats
	// Tick is the highest tick committed by a batch or saved with SaveTick.
	Tick uint64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Schedules: make(map[string]model.Schedule),
		Balances:  make(map[string]uint64),
	}
}

// Apply folds a batch into the snapshot.
func (s *Snapshot) Apply(b Batch) {
	if b.Schedule != nil {
		s.Schedules[b.Schedule.Owner] = *b.Schedule
	}
	if b.Balance != nil {
		s.Balances[b.Balance.Owner] = b.Balance.SourceBalance
	}
	if b.Stats != nil {
		s.Stats = *b.Stats
	}
	if b.Event.Tick > s.Tick {
		s.Tick = b.Event.Tick
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := NewSnapshot()
	for k, v := range s.Schedules {
		out.Schedules[k] = v
	}
	for k, v := range s.Balances {
		out.Balances[k] = v
	}
	out.Stats = s.Stats
	out.Tick = s.Tick
	return out
}

// Batch is the set of records changed by one operation.
type Batch struct {
	Schedule *model.Schedule
	Balance  *model.Balance
	Stats    *model.Stats
	Event    model.Event
}

// Store is the persistence API used by the plan service.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, b Batch) error
	// SaveTick records that the clock reached tick. Lower ticks than the stored one are ignored.
	SaveTick(ctx context.Context, tick uint64) error
	// History returns an owner's events, newest first. limit <= 0 means no limit.
	History(ctx context.Context, owner string, limit int) ([]model.Event, error)
	Close() error
}

// Canonical driver names.
const (
	DriverMemory = "memory"
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

var driverAliases = map[string]string{
	"":        DriverMemory,
	"memory":  DriverMemory,
	"none":    DriverMemory,
	"json":    DriverJSON,
	"file":    DriverJSON,
	"sqlite":  DriverSQLite,
	"sqlite3": DriverSQLite,
}

// NormalizeDriver maps a configured driver name, case-insensitively and including aliases,
// to its canonical name.
func NormalizeDriver(driver string) (string, error) {
	name, ok := driverAliases[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return "", errors.New("unknown storage driver: " + driver)
	}
	return name, nil
}

// Open initializes the configured store. An empty driver selects the in-memory store.
func Open(driver, path string, log zerolog.Logger) (Store, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	switch name {
	case DriverJSON:
		return OpenJSON(path, log)
	case DriverSQLite:
		return OpenSQLite(path, log)
	default:
		return NewMemory(), nil
	}
}

func filterHistory(events []model.Event, owner string, limit int) []model.Event {
	var out []model.Event
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Owner != owner {
			continue
		}
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
