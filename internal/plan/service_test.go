package plan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DCAKeeper/internal/clock"
	"DCAKeeper/internal/exchange"
	"DCAKeeper/internal/store"
)

func TestNewValidatesParams(t *testing.T) {
	p := testParams
	p.FeeRateBps = BasisPoints
	_, err := New(context.Background(), p, Deps{Clock: clock.NewManual(0), Exchange: exchange.FixedRate{Divisor: 1}})
	require.Error(t, err)

	_, err = New(context.Background(), testParams, Deps{Clock: clock.NewManual(0)})
	require.Error(t, err, "exchange is required")
}

func TestCreateScheduleValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		owner     string
		amount    uint64
		frequency uint64
		want      error
	}{
		{"amount below minimum", "alice", 999_999, 144, ErrInvalidAmount},
		{"frequency below minimum", "alice", 1_000_000, 143, ErrInvalidFrequency},
		{"amount checked before frequency", "alice", 1, 1, ErrInvalidAmount},
		{"anonymous caller", "", 1_000_000, 144, ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.svc.CreateSchedule(ctx, tt.owner, tt.amount, tt.frequency)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, ok := env.svc.Schedule("alice")
	require.False(t, ok)
	require.Equal(t, uint64(0), env.svc.Stats().TotalUsers)
}

func TestCreateScheduleInitializesRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.clock.Set(10)

	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 2_000_000, 200))

	sc, ok := env.svc.Schedule("alice")
	require.True(t, ok)
	assert.True(t, sc.Active)
	assert.Equal(t, uint64(210), sc.NextExecutionTick)
	assert.Equal(t, uint64(10), sc.CreatedAt)
	assert.Equal(t, uint64(2_000_000), sc.AmountPerPurchase)
	assert.Equal(t, uint64(200), sc.FrequencyTicks)
	assert.Zero(t, sc.TotalDeposited)
	assert.Zero(t, sc.TotalPurchased)
	assert.Zero(t, sc.AccumulatedTarget)

	assert.Equal(t, uint64(0), env.svc.Balance("alice"))
	assert.Equal(t, uint64(1), env.svc.Stats().TotalUsers)
	assert.Equal(t, []string{"alice"}, env.svc.Owners())
}

func TestCreateWhileActiveIsNotAuthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	err := env.svc.CreateSchedule(ctx, "alice", 5_000_000, 288)
	require.ErrorIs(t, err, ErrNotAuthorized)

	sc, _ := env.svc.Schedule("alice")
	require.Equal(t, uint64(1_000_000), sc.AmountPerPurchase, "existing schedule untouched")
}

func TestCancelAndRecreate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, env.svc.CancelSchedule(ctx, "alice"), ErrScheduleNotFound)

	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 3_000_000)
	env.clock.Set(144)
	_, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelSchedule(ctx, "alice"))
	require.ErrorIs(t, env.svc.CancelSchedule(ctx, "alice"), ErrScheduleNotActive)

	sc, ok := env.svc.Schedule("alice")
	require.True(t, ok, "cancel is a soft delete")
	require.False(t, sc.Active)
	require.Equal(t, uint64(9), sc.AccumulatedTarget)

	env.clock.Set(500)
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_500_000, 300))
	sc, _ = env.svc.Schedule("alice")
	assert.True(t, sc.Active)
	assert.Equal(t, uint64(800), sc.NextExecutionTick)
	assert.Equal(t, uint64(500), sc.CreatedAt)
	assert.Zero(t, sc.TotalDeposited)
	assert.Zero(t, sc.TotalPurchased)
	assert.Zero(t, sc.AccumulatedTarget)

	assert.Equal(t, uint64(2_000_000), env.svc.Balance("alice"), "balance survives recreation")
	assert.Equal(t, uint64(1), env.svc.Stats().TotalUsers, "recreation is not a new user")
}

func TestDeposit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, env.svc.Deposit(ctx, "alice", 0), ErrInvalidAmount)
	require.ErrorIs(t, env.svc.Deposit(ctx, "", 10), ErrNotAuthorized)

	err := env.svc.Deposit(ctx, "alice", 10)
	require.ErrorIs(t, err, ErrTransferFailed, "wallet is empty")
	require.Equal(t, uint64(0), env.svc.Balance("alice"))

	// Deposits before a schedule exists are kept when it is created.
	env.fundAndDeposit(t, "alice", 700)
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	require.Equal(t, uint64(700), env.svc.Balance("alice"))

	env.fundAndDeposit(t, "alice", 1_000_000)
	env.fundAndDeposit(t, "alice", 300)
	require.Equal(t, uint64(1_001_000), env.svc.Balance("alice"))

	sc, _ := env.svc.Schedule("alice")
	require.Equal(t, uint64(1_000_300), sc.TotalDeposited)
	require.Equal(t, uint64(0), env.custody.Wallet("alice", "STX"))
}

func TestFailedCommitLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 1_000_000)

	env.store.failWith(errors.New("disk full"))

	env.custody.Fund("alice", "STX", 500)
	err := env.svc.Deposit(ctx, "alice", 500)
	require.ErrorIs(t, err, ErrPersistence)
	require.Equal(t, uint64(1_000_000), env.svc.Balance("alice"))
	require.Equal(t, uint64(500), env.custody.Wallet("alice", "STX"), "deposit transfer reversed")

	require.ErrorIs(t, env.svc.CancelSchedule(ctx, "alice"), ErrPersistence)
	sc, _ := env.svc.Schedule("alice")
	require.True(t, sc.Active)

	require.ErrorIs(t, env.svc.CreateSchedule(ctx, "bob", 1_000_000, 144), ErrPersistence)
	_, ok := env.svc.Schedule("bob")
	require.False(t, ok)
	require.Equal(t, uint64(1), env.svc.Stats().TotalUsers)

	env.store.failWith(nil)
	require.NoError(t, env.svc.Deposit(ctx, "alice", 500))
	require.Equal(t, uint64(1_000_500), env.svc.Balance("alice"))
}

func TestServiceRestoresFromStore(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
	env.fundAndDeposit(t, "alice", 2_000_000)
	env.clock.Set(150)
	_, err := env.svc.Execute(ctx, "alice")
	require.NoError(t, err)

	restarted := clock.NewManual(0)
	svc, err := New(ctx, testParams, Deps{
		Clock:    restarted,
		Store:    env.store,
		Exchange: exchange.FixedRate{Divisor: 100000},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	require.Equal(t, uint64(150), restarted.Now(), "clock resumes from the last committed tick")
	require.Equal(t, uint64(1_000_000), svc.Balance("alice"))
	sc, ok := svc.Schedule("alice")
	require.True(t, ok)
	require.Equal(t, uint64(288), sc.NextExecutionTick)
	require.Equal(t, env.svc.Stats(), svc.Stats())

	hist, err := svc.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.NotEmpty(t, hist[0].ID)
}

func TestAdvancedTickSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, driver := range []string{store.DriverJSON, store.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(dir, "state."+driver)
			open := func(c *clock.Manual) (*Service, store.Store) {
				st, err := store.Open(driver, path, zerolog.Nop())
				require.NoError(t, err)
				svc, err := New(ctx, testParams, Deps{
					Clock:    c,
					Store:    st,
					Exchange: exchange.FixedRate{Divisor: 100000},
					Logger:   zerolog.Nop(),
				})
				require.NoError(t, err)
				return svc, st
			}

			svc, st := open(clock.NewManual(0))
			require.NoError(t, svc.CreateSchedule(ctx, "alice", 1_000_000, 144))
			now, err := svc.Advance(ctx, 500)
			require.NoError(t, err)
			require.Equal(t, uint64(500), now)
			require.NoError(t, st.Close())

			restarted := clock.NewManual(0)
			svc, st = open(restarted)
			defer st.Close()
			require.Equal(t, uint64(500), restarted.Now(), "restart resumes from the advanced tick")
			require.Equal(t, uint64(500), svc.Now())
			require.False(t, svc.CanExecute("alice"), "no balance yet")
			sc, _ := svc.Schedule("alice")
			require.Equal(t, uint64(144), sc.NextExecutionTick)
		})
	}
}

func TestAdvanceReportsPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.store.failWith(errors.New("disk full"))
	now, err := env.svc.Advance(ctx, 10)
	require.ErrorIs(t, err, ErrPersistence)
	require.Equal(t, uint64(10), now)

	env.store.failWith(nil)
	now, err = env.svc.Advance(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(15), now)
	snap, err := env.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(15), snap.Tick)
}

type fixedClock uint64

func (c fixedClock) Now() uint64 { return uint64(c) }

func TestAdvanceNeedsAdvancingClock(t *testing.T) {
	svc, err := New(context.Background(), testParams, Deps{
		Clock:    fixedClock(7),
		Exchange: exchange.FixedRate{Divisor: 1},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	now, err := svc.Advance(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, uint64(7), now)
}

func TestCode(t *testing.T) {
	require.Equal(t, "", Code(nil))
	require.Equal(t, "execution_too_early", Code(ErrExecutionTooEarly))
	require.Equal(t, "swap_failed", Code(errors.Join(errors.New("x"), ErrSwapFailed)))
	require.Equal(t, "internal", Code(errors.New("boom")))
}
