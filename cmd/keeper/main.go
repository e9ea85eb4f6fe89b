package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"DCAKeeper/internal/api"
	"DCAKeeper/internal/clock"
	"DCAKeeper/internal/config"
	"DCAKeeper/internal/custody"
	"DCAKeeper/internal/exchange"
	"DCAKeeper/internal/keeper"
	"DCAKeeper/internal/logging"
	"DCAKeeper/internal/metrics"
	"DCAKeeper/internal/notifier"
	"DCAKeeper/internal/plan"
	"DCAKeeper/internal/store"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Console)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("config", cfgPath).Msg("DCAKeeper starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open store")
	}
	defer st.Close()

	// Exchange
	var ex exchange.Adapter
	if cfg.Exchange.BaseURL != "" {
		ex = exchange.NewHTTPAdapter(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Proxy, cfg.Exchange.Timeout)
	} else {
		ex = exchange.FixedRate{Divisor: cfg.Exchange.RateDivisor}
	}
	log.Info().Str("exchange", ex.Name()).Msg("exchange adapter ready")

	m := metrics.New()
	clk := clock.NewManual(cfg.Clock.StartTick)

	svc, err := plan.New(ctx, cfg.PlanParams(), plan.Deps{
		Clock:    clk,
		Store:    st,
		Exchange: ex,
		Custody:  custody.NewMemory(false),
		Observer: m,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init plan service")
	}
	m.SetTick(svc.Now())

	// Telegram
	var n notifier.Notifier = notifier.Nop{}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		n = tn
	}
	formatter := notifier.Formatter{
		SourceAsset:    cfg.Plan.SourceAsset,
		TargetAsset:    cfg.Plan.TargetAsset,
		SourceDecimals: cfg.Plan.SourceDecimals,
		TargetDecimals: cfg.Plan.TargetDecimals,
	}

	// Keeper
	kc := keeper.Config{
		TickCron:         cfg.Clock.TickCron,
		TicksPerAdvance:  cfg.Clock.TicksPerAdvance,
		Workers:          cfg.Keeper.Workers,
		RatePerSec:       cfg.Keeper.RatePerSec,
		NotifyExecutions: cfg.Keeper.NotifyExecutions,
	}
	if cfg.Keeper.Enabled {
		kc.SweepCron = cfg.Keeper.SweepCron
	}
	kp := keeper.New(ctx, kc, svc, svc, n, formatter, m, log)
	if err := kp.RegisterAll(); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	kp.Start()
	defer kp.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, kp.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	// HTTP API
	srv := api.NewServer(svc, cfg.API.OwnerHeader, m.Handler(), log).NewHTTPServer(cfg.API.ListenAddr)
	go func() {
		log.Info().Str("addr", cfg.API.ListenAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server")
			cancel()
		}
	}()

	log.Info().Bool("keeper", cfg.Keeper.Enabled).Msg("DCAKeeper is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received, stopping...")
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	cancel()
	log.Info().Msg("DCAKeeper stopped")
}
