package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"DCAKeeper/internal/plan"
	"DCAKeeper/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Plan struct {
		MinAmount      uint64  `yaml:"min_amount"`
		MinFrequency   uint64  `yaml:"min_frequency"`
		FeeRateBps     *uint64 `yaml:"fee_rate_bps"`
		ContractOwner  string  `yaml:"contract_owner"`
		SourceAsset    string  `yaml:"source_asset"`
		TargetAsset    string  `yaml:"target_asset"`
		SourceDecimals int32   `yaml:"source_decimals"`
		TargetDecimals int32   `yaml:"target_decimals"`
	} `yaml:"plan"`
	Exchange struct {
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		RateDivisor uint64        `yaml:"rate_divisor"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"exchange"`
	Clock struct {
		StartTick       uint64 `yaml:"start_tick"`
		TickCron        string `yaml:"tick_cron"`
		TicksPerAdvance uint64 `yaml:"ticks_per_advance"`
	} `yaml:"clock"`
	Keeper struct {
		Enabled    bool    `yaml:"enabled"`
		SweepCron  string  `yaml:"sweep_cron"`
		Workers    int     `yaml:"workers"`
		RatePerSec float64 `yaml:"rate_per_sec"`
		// NotifyExecutions sends one message per purchase the keeper makes.
		NotifyExecutions bool `yaml:"notify_executions"`
	} `yaml:"keeper"`
	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`
	API struct {
		ListenAddr  string `yaml:"listen_addr"`
		OwnerHeader string `yaml:"owner_header"`
	} `yaml:"api"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error; everything then comes from env and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DCA_CONTRACT_OWNER"); v != "" {
		cfg.Plan.ContractOwner = v
	}
	if v := os.Getenv("DCA_FEE_RATE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("DCA_FEE_RATE_BPS: %w", err)
		}
		cfg.Plan.FeeRateBps = &bps
	}
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Plan.MinAmount == 0 {
		cfg.Plan.MinAmount = 1_000_000
	}
	if cfg.Plan.MinFrequency == 0 {
		cfg.Plan.MinFrequency = 144
	}
	// Zero is a valid fee rate, so only an absent value gets the default.
	if cfg.Plan.FeeRateBps == nil {
		bps := uint64(50)
		cfg.Plan.FeeRateBps = &bps
	}
	if cfg.Plan.SourceAsset == "" {
		cfg.Plan.SourceAsset = "STX"
	}
	if cfg.Plan.TargetAsset == "" {
		cfg.Plan.TargetAsset = "sBTC"
	}
	if cfg.Plan.SourceDecimals == 0 {
		cfg.Plan.SourceDecimals = 6
	}
	if cfg.Plan.TargetDecimals == 0 {
		cfg.Plan.TargetDecimals = 8
	}
	if cfg.Exchange.RateDivisor == 0 {
		cfg.Exchange.RateDivisor = 100000
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 15 * time.Second
	}
	if cfg.Clock.TickCron == "" {
		cfg.Clock.TickCron = "0 */10 * * * *"
	}
	if cfg.Clock.TicksPerAdvance == 0 {
		cfg.Clock.TicksPerAdvance = 1
	}
	if cfg.Keeper.SweepCron == "" {
		cfg.Keeper.SweepCron = "30 */10 * * * *"
	}
	if cfg.Keeper.Workers == 0 {
		cfg.Keeper.Workers = 4
	}
	if cfg.Keeper.RatePerSec == 0 {
		cfg.Keeper.RatePerSec = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = store.DriverSQLite
	}
	// Unknown names are left as they are for Validate to report.
	if name, err := store.NormalizeDriver(cfg.Storage.Driver); err == nil {
		cfg.Storage.Driver = name
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath(cfg.Storage.Driver)
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":8080"
	}
	if cfg.API.OwnerHeader == "" {
		cfg.API.OwnerHeader = "X-Owner"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

func defaultStoragePath(driver string) string {
	switch driver {
	case store.DriverJSON:
		return "data/dca_state.json"
	case store.DriverSQLite:
		return "data/dca_keeper.db"
	}
	return ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if err := c.PlanParams().Validate(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if _, err := store.NormalizeDriver(c.Storage.Driver); err != nil {
		return fmt.Errorf("storage.driver: %w", err)
	}
	if c.Keeper.Workers < 0 {
		return fmt.Errorf("keeper.workers must not be negative")
	}
	if c.Keeper.RatePerSec < 0 {
		return fmt.Errorf("keeper.rate_per_sec must not be negative")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// PlanParams returns the deployment constants for the plan service.
func (c *Config) PlanParams() plan.Params {
	return plan.Params{
		MinAmount:     c.Plan.MinAmount,
		MinFrequency:  c.Plan.MinFrequency,
		FeeRateBps:    *c.Plan.FeeRateBps,
		ContractOwner: c.Plan.ContractOwner,
		SourceAsset:   c.Plan.SourceAsset,
		TargetAsset:   c.Plan.TargetAsset,
	}
}
