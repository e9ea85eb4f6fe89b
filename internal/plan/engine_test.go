package plan

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DCAKeeper/internal/exchange"
	"DCAKeeper/internal/model"
)

func TestFee(t *testing.T) {
	tests := []struct {
		amount  uint64
		bps     uint64
		wantFee uint64
	}{
		{1_000_000, 50, 5000},
		{1_000_199, 50, 5000},
		{1_000_200, 50, 5001},
		{199, 50, 0},
		{1_000_000, 0, 0},
		{1_000_000, 9999, 999_900},
		{math.MaxUint64, 50, math.MaxUint64 / 200},
	}
	for _, tt := range tests {
		p := testParams
		p.FeeRateBps = tt.bps
		fee, net := p.Fee(tt.amount)
		assert.Equal(t, tt.wantFee, fee, "fee(%d, %d bps)", tt.amount, tt.bps)
		assert.Equal(t, tt.amount-tt.wantFee, net)
	}
}

func TestExecuteWorkedExample(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	sc, _ := env.svc.Schedule("alice")
	require.Equal(t, uint64(144), sc.NextExecutionTick)
	env.fundAndDeposit(t, "alice", 1_000_000)

	env.clock.Set(144)
	target, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(9), target)

	sc, _ = env.svc.Schedule("alice")
	assert.Equal(t, uint64(0), env.svc.Balance("alice"))
	assert.Equal(t, uint64(9), sc.AccumulatedTarget)
	assert.Equal(t, uint64(995000), sc.TotalPurchased)
	assert.Equal(t, uint64(288), sc.NextExecutionTick)

	st := env.svc.Stats()
	assert.Equal(t, uint64(5000), st.FeesCollected)
	assert.Equal(t, uint64(1_000_000), st.TotalSourceProcessed)
	assert.Equal(t, uint64(9), st.TotalTargetPurchased)
	assert.Equal(t, 1, env.observer.executed)

	hist, err := env.svc.History(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.EventExecute, hist[0].Kind)
	assert.Equal(t, uint64(5000), hist[0].Fee)
	assert.Equal(t, uint64(144), hist[0].Tick)
}

func TestExecuteTooEarlyLeavesBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 1_000_000)

	env.clock.Set(100)
	_, err := env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrExecutionTooEarly)
	require.Equal(t, uint64(1_000_000), env.svc.Balance("alice"))
	require.False(t, env.svc.CanExecute("alice"))
	require.Equal(t, 1, env.observer.rejected["execution_too_early"])
}

func TestExecuteGatesInOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrScheduleNotFound)

	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))

	// Too early wins over insufficient balance.
	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrExecutionTooEarly)

	env.clock.Set(144)
	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	env.fundAndDeposit(t, "alice", 999_999)
	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	env.fundAndDeposit(t, "alice", 1)
	require.True(t, env.svc.CanExecute("alice"))

	require.NoError(t, env.svc.CancelSchedule(ctx, "alice"))
	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrScheduleNotActive)
	require.False(t, env.svc.CanExecute("alice"))

	require.Equal(t, uint64(1_000_000), env.svc.Balance("alice"))
	require.Equal(t, model.Stats{TotalUsers: 1}, env.svc.Stats())
}

func TestExecuteSwapFailureIsNoOp(t *testing.T) {
	boom := errors.New("no liquidity")
	var calls atomic.Int32
	env := newTestEnv(t, exchange.Func(func(_ context.Context, net uint64) (uint64, error) {
		calls.Add(1)
		require.Equal(t, uint64(995000), net, "only the net amount is swapped")
		return 0, boom
	}))
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 1_000_000)
	env.clock.Set(144)

	before, _ := env.svc.Schedule("alice")
	_, err := env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrSwapFailed)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(1), calls.Load())

	after, _ := env.svc.Schedule("alice")
	require.Equal(t, before, after)
	require.Equal(t, uint64(1_000_000), env.svc.Balance("alice"))
	require.Equal(t, model.Stats{TotalUsers: 1}, env.svc.Stats())
	require.True(t, env.svc.CanExecute("alice"), "caller may retry")
}

func TestExecuteCommitFailureIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 1_000_000)
	env.clock.Set(144)

	env.store.failWith(errors.New("locked"))
	_, err := env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrPersistence)

	sc, _ := env.svc.Schedule("alice")
	require.Equal(t, uint64(144), sc.NextExecutionTick)
	require.Zero(t, sc.AccumulatedTarget)
	require.Equal(t, uint64(1_000_000), env.svc.Balance("alice"))
	require.Zero(t, env.svc.Stats().FeesCollected)

	env.store.failWith(nil)
	target, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(9), target)
}

func TestSecondExecuteWithoutClockAdvanceIsTooEarly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 5_000_000)

	env.clock.Set(144)
	_, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)

	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrExecutionTooEarly)

	env.clock.Set(287)
	_, err = env.svc.Execute(ctx, "alice")
	require.ErrorIs(t, err, ErrExecutionTooEarly)

	env.clock.Set(288)
	_, err = env.svc.Execute(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000), env.svc.Balance("alice"))
}

func TestExecuteDeltas(t *testing.T) {
	env := newTestEnv(t, exchange.FixedRate{Divisor: 1000})
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_234_567, 150))
	env.fundAndDeposit(t, "alice", 10_000_000)

	for i := 0; i < 5; i++ {
		before, _ := env.svc.Schedule("alice")
		balBefore := env.svc.Balance("alice")
		statsBefore := env.svc.Stats()

		env.clock.Set(before.NextExecutionTick)
		target, err := env.svc.Execute(ctx, "alice")
		require.NoError(t, err)

		fee, net := testParams.Fee(before.AmountPerPurchase)
		after, _ := env.svc.Schedule("alice")
		require.Equal(t, before.NextExecutionTick+before.FrequencyTicks, after.NextExecutionTick)
		require.Equal(t, before.AccumulatedTarget+target, after.AccumulatedTarget)
		require.Equal(t, before.TotalPurchased+net, after.TotalPurchased)
		require.Equal(t, balBefore-before.AmountPerPurchase, env.svc.Balance("alice"))
		require.Equal(t, statsBefore.FeesCollected+fee, env.svc.Stats().FeesCollected)
		require.Equal(t, net/1000, target)
	}
}

func TestLateExecutionAdvancesOneInterval(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 3_000_000)

	env.clock.Set(1000)
	_, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)
	sc, _ := env.svc.Schedule("alice")
	require.Equal(t, uint64(288), sc.NextExecutionTick, "advances by exactly one interval")
	require.True(t, env.svc.CanExecute("alice"), "missed intervals stay due")
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 10_000_000)
	env.clock.Set(144)

	var ok, early atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Execute(ctx, "alice")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrExecutionTooEarly):
				early.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(31), early.Load())
	require.Equal(t, uint64(9_000_000), env.svc.Balance("alice"))
	require.Equal(t, uint64(5000), env.svc.Stats().FeesCollected)
}

func TestConcurrentOwnersKeepStatsConsistent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	owners := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, o := range owners {
		require.NoError(t, env.svc.CreateSchedule(ctx, o, 1_000_000, 144))
		env.fundAndDeposit(t, o, 1_000_000)
	}
	env.clock.Set(144)
	require.Equal(t, owners, env.svc.DueOwners())

	var wg sync.WaitGroup
	for _, o := range owners {
		wg.Add(1)
		go func(o string) {
			defer wg.Done()
			_, err := env.svc.Execute(ctx, o)
			assert.NoError(t, err)
		}(o)
	}
	wg.Wait()

	st := env.svc.Stats()
	require.Equal(t, uint64(len(owners)), st.TotalUsers)
	require.Equal(t, uint64(len(owners))*5000, st.FeesCollected)
	require.Equal(t, uint64(len(owners))*1_000_000, st.TotalSourceProcessed)
	require.Equal(t, uint64(len(owners))*9, st.TotalTargetPurchased)
	require.Empty(t, env.svc.DueOwners())
}
