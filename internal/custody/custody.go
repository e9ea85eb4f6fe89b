// Package custody moves assets between owner wallets and the service's custody.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientFunds is returned when a wallet cannot cover a transfer in.
var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// Transferer is the asset-transfer primitive used by deposits, withdrawals and fee collection.
type Transferer interface {
	// TransferIn moves amount of asset from the owner's wallet into custody.
	TransferIn(ctx context.Context, owner, asset string, amount uint64) error
	// TransferOut moves amount of asset from custody to the owner's wallet.
	TransferOut(ctx context.Context, owner, asset string, amount uint64) error
}

// Memory keeps wallet balances in process.
//
// In strict mode TransferIn requires the wallet to be funded first via Fund.
// Otherwise wallets are treated as unbounded and only track the net flow.
type Memory struct {
	mu      sync.Mutex
	strict  bool
	wallets map[string]map[string]uint64
	fail    error
}

// NewMemory creates an in-memory transferer.
func NewMemory(strict bool) *Memory {
	return &Memory{strict: strict, wallets: make(map[string]map[string]uint64)}
}

// Fund credits an owner's external wallet.
func (m *Memory) Fund(owner, asset string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallet(owner)[asset] += amount
}

// Wallet returns an owner's external wallet balance for asset.
func (m *Memory) Wallet(owner, asset string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[owner][asset]
}

// FailWith makes every following transfer return err. Pass nil to clear.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Memory) TransferIn(_ context.Context, owner, asset string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	w := m.wallet(owner)
	if w[asset] < amount {
		if m.strict {
			return fmt.Errorf("%s %s: have %d, need %d: %w", owner, asset, w[asset], amount, ErrInsufficientFunds)
		}
		w[asset] = 0
		return nil
	}
	w[asset] -= amount
	return nil
}

func (m *Memory) TransferOut(_ context.Context, owner, asset string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.wallet(owner)[asset] += amount
	return nil
}

func (m *Memory) wallet(owner string) map[string]uint64 {
	w, ok := m.wallets[owner]
	if !ok {
		w = make(map[string]uint64)
		m.wallets[owner] = w
	}
	return w
}
