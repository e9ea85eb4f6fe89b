// Package exchange converts source-asset amounts into target-asset amounts.
package exchange

import (
	"context"
	"errors"
)

// ErrZeroDivisor is returned by a FixedRate adapter configured without a divisor.
var ErrZeroDivisor = errors.New("fixed rate divisor is zero")

// Adapter defines the interface for converting a source amount into the target asset.
// Implementations must not have side effects visible to the caller beyond the return value.
type Adapter interface {
	Swap(ctx context.Context, sourceAmount uint64) (targetAmount uint64, err error)
	Name() string
}

// FixedRate converts at a constant rate: target = source / Divisor.
type FixedRate struct {
	Divisor uint64
}

func (f FixedRate) Name() string { return "fixed-rate" }

func (f FixedRate) Swap(_ context.Context, sourceAmount uint64) (uint64, error) {
	if f.Divisor == 0 {
		return 0, ErrZeroDivisor
	}
	return sourceAmount / f.Divisor, nil
}

// Func adapts a plain function to Adapter. Useful for stubbing in tests.
type Func func(ctx context.Context, sourceAmount uint64) (uint64, error)

func (f Func) Name() string { return "func" }

func (f Func) Swap(ctx context.Context, sourceAmount uint64) (uint64, error) {
	return f(ctx, sourceAmount)
}
