package plan

import (
	"fmt"

	"DCAKeeper/internal/model"
)

// balanceLedger tracks each owner's source-asset custody balance.
type balanceLedger struct {
	balances map[string]uint64
}

func newBalanceLedger(balances map[string]uint64) balanceLedger {
	if balances == nil {
		balances = make(map[string]uint64)
	}
	return balanceLedger{balances: balances}
}

// get returns the balance, 0 if the owner has none.
func (l *balanceLedger) get(owner string) uint64 { return l.balances[owner] }

func (l *balanceLedger) exists(owner string) bool {
	_, ok := l.balances[owner]
	return ok
}

func (l *balanceLedger) put(b model.Balance) { l.balances[b.Owner] = b.SourceBalance }

func (l *balanceLedger) credit(owner string, amount uint64) (model.Balance, error) {
	if amount == 0 {
		return model.Balance{}, ErrInvalidAmount
	}
	cur := l.balances[owner]
	if cur+amount < cur {
		return model.Balance{}, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	return model.Balance{Owner: owner, SourceBalance: cur + amount}, nil
}

// debit is the owner-initiated withdrawal path; zero amounts are rejected.
func (l *balanceLedger) debit(owner string, amount uint64) (model.Balance, error) {
	if amount == 0 {
		return model.Balance{}, ErrInvalidAmount
	}
	return l.debitExact(owner, amount)
}

// debitExact is the execution path. It only guards against overdraw.
func (l *balanceLedger) debitExact(owner string, amount uint64) (model.Balance, error) {
	cur := l.balances[owner]
	if amount > cur {
		return model.Balance{}, ErrInsufficientBalance
	}
	return model.Balance{Owner: owner, SourceBalance: cur - amount}, nil
}
