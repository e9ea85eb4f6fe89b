// Package keeper drives plans without user interaction: it advances the logical clock and
// periodically executes every schedule that is due.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"DCAKeeper/internal/model"
	"DCAKeeper/internal/notifier"
	"DCAKeeper/internal/plan"
)

// Planner is the part of plan.Service the keeper drives.
type Planner interface {
	Now() uint64
	DueOwners() []string
	Execute(ctx context.Context, owner string) (uint64, error)
	Stats() model.Stats
	Schedule(owner string) (model.Schedule, bool)
	Balance(owner string) uint64
	Params() plan.Params
}

// Advancer moves the logical clock forward and persists the new tick. plan.Service
// implements it.
type Advancer interface {
	Advance(ctx context.Context, n uint64) (uint64, error)
}

// Recorder receives sweep measurements. metrics.Metrics implements it.
type Recorder interface {
	SweepDone(executed, failed int, took time.Duration)
	SetTick(t uint64)
}

type nopRecorder struct{}

func (nopRecorder) SweepDone(int, int, time.Duration) {}
func (nopRecorder) SetTick(uint64)                    {}

// Config controls the keeper's jobs.
type Config struct {
	TickCron         string
	SweepCron        string
	TicksPerAdvance  uint64
	Workers          int
	RatePerSec       float64
	NotifyExecutions bool
}

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	Tick     uint64
	Due      int
	Executed map[string]uint64
	Failed   map[string]error
	Took     time.Duration
	Skipped  bool
}

// Keeper manages the cron jobs that tick the clock and execute due plans.
type Keeper struct {
	Cron *cron.Cron

	cfg       Config
	plan      Planner
	clock     Advancer
	notifier  notifier.Notifier
	formatter notifier.Formatter
	recorder  Recorder
	pool      pond.Pool
	limiter   *rate.Limiter
	log       zerolog.Logger
	ctx       context.Context

	sweepMu sync.Mutex
}

// New creates a Keeper. clock may be nil when time is advanced elsewhere; the tick job is
// then not registered.
func New(ctx context.Context, cfg Config, p Planner, clock Advancer, n notifier.Notifier, f notifier.Formatter, rec Recorder, log zerolog.Logger) *Keeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TicksPerAdvance == 0 {
		cfg.TicksPerAdvance = 1
	}
	if n == nil {
		n = notifier.Nop{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	limit, burst := rate.Inf, 0
	if cfg.RatePerSec > 0 {
		limit, burst = rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec))
	}
	return &Keeper{
		Cron:      cron.New(cron.WithSeconds()),
		cfg:       cfg,
		plan:      p,
		clock:     clock,
		notifier:  n,
		formatter: f,
		recorder:  rec,
		pool:      pond.NewPool(cfg.Workers),
		limiter:   rate.NewLimiter(limit, burst),
		log:       log.With().Str("component", "keeper").Logger(),
		ctx:       ctx,
	}
}

// RegisterAll registers the tick and sweep jobs.
func (k *Keeper) RegisterAll() error {
	if k.clock != nil && k.cfg.TickCron != "" {
		if _, err := k.Cron.AddFunc(k.cfg.TickCron, k.advance); err != nil {
			return fmt.Errorf("register tick job: %w", err)
		}
	}
	if k.cfg.SweepCron != "" {
		if _, err := k.Cron.AddFunc(k.cfg.SweepCron, k.sweepJob); err != nil {
			return fmt.Errorf("register sweep job: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.Cron.Start()
	k.log.Info().Int("workers", k.cfg.Workers).Float64("rate_per_sec", k.cfg.RatePerSec).Msg("keeper started")
}

// Stop stops the cron scheduler, waits for a running job and drains the worker pool.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	k.pool.StopAndWait()
	k.log.Info().Msg("keeper stopped")
}

func (k *Keeper) advance() {
	now, err := k.clock.Advance(k.ctx, k.cfg.TicksPerAdvance)
	k.recorder.SetTick(now)
	if err != nil {
		k.log.Error().Err(err).Uint64("tick", now).Msg("advance clock")
		return
	}
	k.log.Debug().Uint64("tick", now).Msg("clock advanced")
}

func (k *Keeper) sweepJob() {
	report := k.Sweep(k.ctx)
	if report.Skipped || (len(report.Executed) == 0 && len(report.Failed) == 0) {
		return
	}
	k.trySend(k.formatSweep(report))
}

// Sweep executes every due schedule once, concurrently and rate limited. A sweep that
// starts while another is still running is skipped.
func (k *Keeper) Sweep(ctx context.Context) SweepReport {
	if !k.sweepMu.TryLock() {
		k.log.Warn().Msg("previous sweep still running, skipping")
		return SweepReport{Skipped: true}
	}
	defer k.sweepMu.Unlock()

	start := time.Now()
	now := k.plan.Now()
	due := k.plan.DueOwners()
	report := SweepReport{
		Tick:     now,
		Due:      len(due),
		Executed: make(map[string]uint64),
		Failed:   make(map[string]error),
	}
	k.recorder.SetTick(now)
	if len(due) == 0 {
		return report
	}

	var mu sync.Mutex
	group := k.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, owner := range due {
		group.Submit(func() {
			target, err := k.executeOne(groupCtx, owner)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[owner] = err
				return
			}
			report.Executed[owner] = target
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		k.log.Warn().Err(err).Msg("sweep group ended with error")
	}

	report.Took = time.Since(start)
	k.recorder.SweepDone(len(report.Executed), len(report.Failed), report.Took)
	k.log.Info().
		Uint64("tick", now).
		Int("due", report.Due).
		Int("executed", len(report.Executed)).
		Int("failed", len(report.Failed)).
		Dur("took", report.Took).
		Msg("sweep finished")
	return report
}

func (k *Keeper) executeOne(ctx context.Context, owner string) (uint64, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	// The amount is fixed for as long as the schedule stays active.
	sc, _ := k.plan.Schedule(owner)
	at := k.plan.Now()
	target, err := k.plan.Execute(ctx, owner)
	if err != nil {
		k.log.Warn().Err(err).Str("owner", owner).Str("code", plan.Code(err)).Msg("keeper execution failed")
		return 0, err
	}
	if k.cfg.NotifyExecutions {
		fee, _ := k.plan.Params().Fee(sc.AmountPerPurchase)
		k.trySend(k.formatter.Execution(owner, sc.AmountPerPurchase, fee, target, at))
	}
	return target, nil
}

func (k *Keeper) formatSweep(r SweepReport) string {
	failures := make(map[string]string, len(r.Failed))
	for owner, err := range r.Failed {
		failures[owner] = plan.Code(err)
	}
	return k.formatter.Sweep(r.Tick, r.Due, len(r.Executed), failures, r.Took)
}

// HandleCommand processes an operator command and returns a reply.
func (k *Keeper) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.Help()
	}
	switch fields[0] {
	case "/stats":
		return k.formatter.Stats(k.plan.Stats(), k.plan.Now())
	case "/schedule":
		if len(fields) < 2 {
			return "Usage: /schedule &lt;owner&gt;"
		}
		owner := fields[1]
		sc, ok := k.plan.Schedule(owner)
		if !ok {
			return fmt.Sprintf("No schedule for <code>%s</code>", html.EscapeString(owner))
		}
		return k.formatter.Schedule(sc, k.plan.Balance(owner), k.plan.Now())
	case "/due":
		return k.formatter.Due(k.plan.DueOwners(), k.plan.Now())
	case "/sweep":
		r := k.Sweep(ctx)
		if r.Skipped {
			return "A sweep is already running"
		}
		return k.formatSweep(r)
	default:
		return notifier.Help()
	}
}

func (k *Keeper) trySend(text string) {
	if err := k.notifier.SendWithRetry(k.ctx, text, 3); err != nil {
		k.log.Error().Err(err).Msg("send notification")
	}
}
