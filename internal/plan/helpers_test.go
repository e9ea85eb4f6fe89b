package plan

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"DCAKeeper/internal/clock"
	"DCAKeeper/internal/custody"
	"DCAKeeper/internal/exchange"
	"DCAKeeper/internal/store"
)

var testParams = Params{
	MinAmount:     1_000_000,
	MinFrequency:  144,
	FeeRateBps:    50,
	ContractOwner: "deployer",
	SourceAsset:   "STX",
	TargetAsset:   "sBTC",
}

// flakyStore fails commits and tick saves on demand.
type flakyStore struct {
	*store.Memory
	mu   sync.Mutex
	fail error
}

func (f *flakyStore) Commit(ctx context.Context, b store.Batch) error {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Memory.Commit(ctx, b)
}

func (f *flakyStore) SaveTick(ctx context.Context, tick uint64) error {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Memory.SaveTick(ctx, tick)
}

func (f *flakyStore) failWith(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

type recordingObserver struct {
	mu       sync.Mutex
	executed int
	rejected map[string]int
}

func (o *recordingObserver) Executed(string, uint64, uint64, uint64) {
	o.mu.Lock()
	o.executed++
	o.mu.Unlock()
}

func (o *recordingObserver) Rejected(_ string, err error) {
	o.mu.Lock()
	if o.rejected == nil {
		o.rejected = map[string]int{}
	}
	o.rejected[Code(err)]++
	o.mu.Unlock()
}

type testEnv struct {
	svc      *Service
	clock    *clock.Manual
	custody  *custody.Memory
	store    *flakyStore
	observer *recordingObserver
}

func newTestEnv(t *testing.T, swap exchange.Adapter) *testEnv {
	t.Helper()
	if swap == nil {
		swap = exchange.FixedRate{Divisor: 100000}
	}
	env := &testEnv{
		clock:    clock.NewManual(0),
		custody:  custody.NewMemory(true),
		store:    &flakyStore{Memory: store.NewMemory()},
		observer: &recordingObserver{},
	}
	svc, err := New(context.Background(), testParams, Deps{
		Clock:    env.clock,
		Store:    env.store,
		Exchange: swap,
		Custody:  env.custody,
		Observer: env.observer,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	env.svc = svc
	return env
}

// fundAndDeposit funds owner's wallet with amount and deposits all of it.
func (e *testEnv) fundAndDeposit(t *testing.T, owner string, amount uint64) {
	t.Helper()
	e.custody.Fund(owner, testParams.SourceAsset, amount)
	require.NoError(t, e.svc.Deposit(context.Background(), owner, amount))
}
