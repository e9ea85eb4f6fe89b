package plan

import (
	"context"
	"fmt"

	"DCAKeeper/internal/model"
	"DCAKeeper/internal/store"
)

// gate runs the execution checks in order and returns the first that fails.
// Must be called with s.mu held.
func (s *Service) gate(owner string, now uint64) (model.Schedule, error) {
	sc, ok := s.schedules.get(owner)
	if !ok {
		return sc, ErrScheduleNotFound
	}
	if !sc.Active {
		return sc, ErrScheduleNotActive
	}
	if now < sc.NextExecutionTick {
		return sc, ErrExecutionTooEarly
	}
	if s.ledger.get(owner) < sc.AmountPerPurchase {
		return sc, ErrInsufficientBalance
	}
	return sc, nil
}

// CanExecute reports whether Execute would pass every gate for owner at the current tick.
func (s *Service) CanExecute(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.gate(owner, s.clock.Now())
	return err == nil
}

// DueOwners lists owners whose schedule can execute at the current tick, sorted.
func (s *Service) DueOwners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var due []string
	for _, owner := range s.schedules.owners() {
		if _, err := s.gate(owner, now); err == nil {
			due = append(due, owner)
		}
	}
	return due
}

// Execute performs one scheduled purchase for owner and returns the target amount bought.
// Any caller may trigger it; only owner's records and the global counters change.
//
// The gross amount is debited, the fee is retained and only the net amount is swapped.
// If the swap fails nothing changes.
func (s *Service) Execute(ctx context.Context, owner string) (uint64, error) {
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	now := s.clock.Now()
	sc, err := s.gate(owner, now)
	s.mu.Unlock()
	if err != nil {
		return 0, s.reject(opExecute, owner, err)
	}

	amount := sc.AmountPerPurchase
	fee, net := s.params.Fee(amount)
	target, err := s.exchange.Swap(ctx, net)
	if err != nil {
		s.log.Warn().Err(err).Str("owner", owner).Uint64("net", net).Msg("swap failed")
		return 0, s.reject(opExecute, owner, fmt.Errorf("%w: %w", ErrSwapFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The owner lock has been held since the gate, so neither the schedule nor the
	// balance can have changed.
	bal, err := s.ledger.debitExact(owner, amount)
	if err != nil {
		return 0, s.reject(opExecute, owner, err)
	}
	next := applyExecution(sc, net, target)
	st := s.stats.withExecution(amount, target, fee)

	if err := s.commit(ctx, store.Batch{
		Schedule: &next,
		Balance:  &bal,
		Stats:    &st,
		Event: model.Event{
			Kind: model.EventExecute, Owner: owner, Amount: amount,
			Fee: fee, TargetAmount: target, Tick: now,
		},
	}); err != nil {
		return 0, s.reject(opExecute, owner, err)
	}

	s.observer.Executed(owner, amount, fee, target)
	s.log.Info().
		Str("owner", owner).
		Uint64("tick", now).
		Uint64("amount", amount).
		Uint64("fee", fee).
		Uint64("target", target).
		Uint64("next_tick", next.NextExecutionTick).
		Msg("purchase executed")
	return target, nil
}
