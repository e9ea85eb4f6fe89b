package plan

import (
	"context"
	"fmt"

	"DCAKeeper/internal/model"
	"DCAKeeper/internal/store"
)

// WithdrawSource returns amount of owner's unspent source balance to their wallet.
func (s *Service) WithdrawSource(ctx context.Context, owner string, amount uint64) error {
	if owner == "" {
		return s.reject(opWithdrawSource, owner, ErrNotAuthorized)
	}
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	now := s.clock.Now()
	bal, err := s.ledger.debit(owner, amount)
	s.mu.Unlock()
	if err != nil {
		return s.reject(opWithdrawSource, owner, err)
	}

	asset := s.params.SourceAsset
	if err := s.custody.TransferOut(ctx, owner, asset, amount); err != nil {
		return s.reject(opWithdrawSource, owner, fmt.Errorf("%w: %w", ErrTransferFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(ctx, store.Batch{
		Balance: &bal,
		Event:   model.Event{Kind: model.EventWithdrawSource, Owner: owner, Amount: amount, Tick: now},
	}); err != nil {
		s.compensate(ctx, opWithdrawSource, owner, func(ctx context.Context) error {
			return s.custody.TransferIn(ctx, owner, asset, amount)
		})
		return err
	}
	s.log.Info().Str("owner", owner).Uint64("amount", amount).Msg("source withdrawn")
	return nil
}

// WithdrawTarget sends owner's whole accumulated target amount to their wallet and resets it.
func (s *Service) WithdrawTarget(ctx context.Context, owner string) (uint64, error) {
	if owner == "" {
		return 0, s.reject(opWithdrawTarget, owner, ErrNotAuthorized)
	}
	unlock := s.lockOwner(owner)
	defer unlock()

	s.mu.Lock()
	now := s.clock.Now()
	sc, ok := s.schedules.get(owner)
	s.mu.Unlock()
	if !ok || sc.AccumulatedTarget == 0 {
		return 0, s.reject(opWithdrawTarget, owner, ErrInsufficientBalance)
	}

	amount := sc.AccumulatedTarget
	asset := s.params.TargetAsset
	if err := s.custody.TransferOut(ctx, owner, asset, amount); err != nil {
		return 0, s.reject(opWithdrawTarget, owner, fmt.Errorf("%w: %w", ErrTransferFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := resetAccumulatedTarget(sc)
	if err := s.commit(ctx, store.Batch{
		Schedule: &next,
		Event:    model.Event{Kind: model.EventWithdrawTarget, Owner: owner, TargetAmount: amount, Tick: now},
	}); err != nil {
		s.compensate(ctx, opWithdrawTarget, owner, func(ctx context.Context) error {
			return s.custody.TransferIn(ctx, owner, asset, amount)
		})
		return 0, err
	}
	s.log.Info().Str("owner", owner).Uint64("amount", amount).Msg("target withdrawn")
	return amount, nil
}

// CollectFees pays every fee collected so far to the contract owner. Only the contract
// owner may call it.
func (s *Service) CollectFees(ctx context.Context, caller string) (uint64, error) {
	if caller == "" || caller != s.params.ContractOwner {
		return 0, s.reject(opCollectFees, caller, ErrNotAuthorized)
	}
	s.feeMu.Lock()
	defer s.feeMu.Unlock()

	s.mu.Lock()
	now := s.clock.Now()
	fees := s.stats.get().FeesCollected
	s.mu.Unlock()
	if fees == 0 {
		return 0, s.reject(opCollectFees, caller, ErrInsufficientBalance)
	}

	asset := s.params.SourceAsset
	if err := s.custody.TransferOut(ctx, caller, asset, fees); err != nil {
		return 0, s.reject(opCollectFees, caller, fmt.Errorf("%w: %w", ErrTransferFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats.withoutFees(fees)
	if err := s.commit(ctx, store.Batch{
		Stats: &st,
		Event: model.Event{Kind: model.EventCollectFees, Owner: caller, Amount: fees, Tick: now},
	}); err != nil {
		s.compensate(ctx, opCollectFees, caller, func(ctx context.Context) error {
			return s.custody.TransferIn(ctx, caller, asset, fees)
		})
		return 0, err
	}
	s.log.Info().Str("caller", caller).Uint64("amount", fees).Msg("fees collected")
	return fees, nil
}
