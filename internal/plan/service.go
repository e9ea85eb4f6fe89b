// Package plan implements recurring purchase plans: the schedule lifecycle, the source-asset
// balance ledger, the global counters and the time-gated execution engine.
//
// All state lives inside Service. Every operation holds the owner's lock for its whole
// duration and the service lock whenever it reads or writes shared state, so each operation
// is observed as a single atomic step. Mutations are first committed to the store as one
// batch and only then installed in memory; a failed operation leaves both unchanged.
package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"DCAKeeper/internal/clock"
	"DCAKeeper/internal/custody"
	"DCAKeeper/internal/exchange"
	"DCAKeeper/internal/model"
	"DCAKeeper/internal/store"
)

const (
	opCreate         = "create"
	opDeposit        = "deposit"
	opExecute        = "execute"
	opCancel         = "cancel"
	opWithdrawSource = "withdraw_source"
	opWithdrawTarget = "withdraw_target"
	opCollectFees    = "collect_fees"
)

// Observer is notified about operation outcomes. Implemented by the metrics package.
type Observer interface {
	Executed(owner string, amount, fee, target uint64)
	Rejected(op string, err error)
}

type nopObserver struct{}

func (nopObserver) Executed(string, uint64, uint64, uint64) {}
func (nopObserver) Rejected(string, error)                  {}

// Deps are the collaborators injected into a Service. Clock and Exchange are required.
type Deps struct {
	Clock    clock.Clock
	Store    store.Store
	Exchange exchange.Adapter
	Custody  custody.Transferer
	Observer Observer
	Logger   zerolog.Logger
}

// Service coordinates all plan operations.
type Service struct {
	params   Params
	clock    clock.Clock
	store    store.Store
	exchange exchange.Adapter
	custody  custody.Transferer
	observer Observer
	log      zerolog.Logger

	ownerLocks *xsync.Map[string, *sync.Mutex]
	feeMu      sync.Mutex

	mu        sync.Mutex
	schedules scheduleBook
	ledger    balanceLedger
	stats     statsCounter
}

// New creates a Service and restores its state from the store.
//
// If the clock can be set, it is moved forward to the last persisted tick. Ticks reached
// through Advance are persisted too, so a restart never rewinds time.
func New(ctx context.Context, p Params, d Deps) (*Service, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if d.Clock == nil || d.Exchange == nil {
		return nil, fmt.Errorf("clock and exchange are required")
	}
	if d.Store == nil {
		d.Store = store.NewMemory()
	}
	if d.Custody == nil {
		d.Custody = custody.NewMemory(false)
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}

	snap, err := d.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if c, ok := d.Clock.(interface{ Set(uint64) uint64 }); ok {
		c.Set(snap.Tick)
	}

	s := &Service{
		params:     p,
		clock:      d.Clock,
		store:      d.Store,
		exchange:   d.Exchange,
		custody:    d.Custody,
		observer:   d.Observer,
		log:        d.Logger.With().Str("component", "plan").Logger(),
		ownerLocks: xsync.NewMap[string, *sync.Mutex](),
		schedules:  newScheduleBook(snap.Schedules),
		ledger:     newBalanceLedger(snap.Balances),
		stats:      statsCounter{s: snap.Stats},
	}
	s.log.Info().
		Int("schedules", len(snap.Schedules)).
		Uint64("tick", d.Clock.Now()).
		Str("exchange", d.Exchange.Name()).
		Msg("plan service ready")
	return s, nil
}

// CreateSchedule starts a recurring purchase of amount every frequency ticks for owner.
// An inactive schedule is replaced and all its totals start again from zero.
func (s *Service) CreateSchedule(ctx context.Context, owner string, amount, frequency uint64) error {
	if owner == "" {
		return s.reject(opCreate, owner, ErrNotAuthorized)
	}
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	sc, firstEver, err := s.schedules.create(owner, amount, frequency, now, s.params)
	if err != nil {
		return s.reject(opCreate, owner, err)
	}

	b := store.Batch{
		Schedule: &sc,
		Event:    model.Event{Kind: model.EventCreate, Owner: owner, Amount: amount, Tick: now},
	}
	if firstEver {
		st := s.stats.withUser()
		b.Stats = &st
		if !s.ledger.exists(owner) {
			b.Balance = &model.Balance{Owner: owner}
		}
	} else if prev, _ := s.schedules.get(owner); prev.AccumulatedTarget > 0 {
		s.log.Warn().Str("owner", owner).Uint64("accumulated_target", prev.AccumulatedTarget).
			Msg("recreating schedule discards unwithdrawn target")
	}

	if err := s.commit(ctx, b); err != nil {
		return err
	}
	s.log.Info().Str("owner", owner).Uint64("amount", amount).Uint64("frequency", frequency).
		Uint64("next_tick", sc.NextExecutionTick).Msg("schedule created")
	return nil
}

// CancelSchedule deactivates owner's schedule. Balance and totals are kept.
func (s *Service) CancelSchedule(ctx context.Context, owner string) error {
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	sc, err := s.schedules.deactivate(owner)
	if err != nil {
		return s.reject(opCancel, owner, err)
	}
	if err := s.commit(ctx, store.Batch{
		Schedule: &sc,
		Event:    model.Event{Kind: model.EventCancel, Owner: owner, Tick: now},
	}); err != nil {
		return err
	}
	s.log.Info().Str("owner", owner).Msg("schedule cancelled")
	return nil
}

// Deposit moves amount of the source asset from owner's wallet into custody and credits it.
func (s *Service) Deposit(ctx context.Context, owner string, amount uint64) error {
	if owner == "" {
		return s.reject(opDeposit, owner, ErrNotAuthorized)
	}
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	now := s.clock.Now()
	bal, err := s.ledger.credit(owner, amount)
	sc, hasSchedule := s.schedules.get(owner)
	s.mu.Unlock()
	if err != nil {
		return s.reject(opDeposit, owner, err)
	}

	if err := s.custody.TransferIn(ctx, owner, s.params.SourceAsset, amount); err != nil {
		return s.reject(opDeposit, owner, fmt.Errorf("%w: %w", ErrTransferFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := store.Batch{
		Balance: &bal,
		Event:   model.Event{Kind: model.EventDeposit, Owner: owner, Amount: amount, Tick: now},
	}
	if hasSchedule {
		sc.TotalDeposited = satAdd(sc.TotalDeposited, amount)
		b.Schedule = &sc
	}
	if err := s.commit(ctx, b); err != nil {
		s.compensate(ctx, opDeposit, owner, func(ctx context.Context) error {
			return s.custody.TransferOut(ctx, owner, s.params.SourceAsset, amount)
		})
		return err
	}
	s.log.Info().Str("owner", owner).Uint64("amount", amount).Uint64("balance", bal.SourceBalance).Msg("deposit")
	return nil
}

// Schedule returns owner's schedule, if one was ever created.
func (s *Service) Schedule(owner string) (model.Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules.get(owner)
}

// Balance returns owner's source balance, 0 if none.
func (s *Service) Balance(owner string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.get(owner)
}

// Stats returns the global counters.
func (s *Service) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.get()
}

// Owners lists every owner that ever created a schedule, sorted.
func (s *Service) Owners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules.owners()
}

// Now returns the current tick.
func (s *Service) Now() uint64 { return s.clock.Now() }

// Advance moves the clock forward by n ticks and persists the new tick, so a restart resumes
// from it. The clock must support advancing, as clock.Manual does.
//
// If persisting fails the clock has still moved; the returned error wraps ErrPersistence and
// the next successful save or commit records a tick at least as high.
func (s *Service) Advance(ctx context.Context, n uint64) (uint64, error) {
	c, ok := s.clock.(interface{ Advance(uint64) uint64 })
	if !ok {
		return s.clock.Now(), fmt.Errorf("clock %T cannot be advanced", s.clock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := c.Advance(n)
	if err := s.store.SaveTick(ctx, now); err != nil {
		s.log.Error().Err(err).Uint64("tick", now).Msg("save tick failed")
		return now, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return now, nil
}

// Params returns the deployment constants.
func (s *Service) Params() Params { return s.params }

// History returns owner's events, newest first.
func (s *Service) History(ctx context.Context, owner string, limit int) ([]model.Event, error) {
	return s.store.History(ctx, owner, limit)
}

// commit persists b and, on success, installs its records. Must be called with s.mu held.
func (s *Service) commit(ctx context.Context, b store.Batch) error {
	b.Event.ID = uuid.NewString()
	b.Event.At = time.Now()
	if err := s.store.Commit(ctx, b); err != nil {
		s.log.Error().Err(err).Str("op", string(b.Event.Kind)).Str("owner", b.Event.Owner).Msg("commit failed")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if b.Schedule != nil {
		s.schedules.put(*b.Schedule)
	}
	if b.Balance != nil {
		s.ledger.put(*b.Balance)
	}
	if b.Stats != nil {
		s.stats.set(*b.Stats)
	}
	return nil
}

// compensate reverses an external transfer whose batch could not be committed.
func (s *Service) compensate(ctx context.Context, op, owner string, reverse func(context.Context) error) {
	if err := reverse(context.WithoutCancel(ctx)); err != nil {
		s.log.Error().Err(err).Str("op", op).Str("owner", owner).Msg("compensating transfer failed")
		return
	}
	s.log.Warn().Str("op", op).Str("owner", owner).Msg("transfer reversed after failed commit")
}

func (s *Service) reject(op, owner string, err error) error {
	s.observer.Rejected(op, err)
	s.log.Debug().Str("op", op).Str("owner", owner).Err(err).Msg("rejected")
	return err
}

func (s *Service) lockOwner(owner string) (unlock func()) {
	m, _ := s.ownerLocks.LoadOrStore(owner, &sync.Mutex{})
	m.Lock()
	return m.Unlock
}
