package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		Debug             bool `toml:"debug"`
		CollectEveryMs    int  `toml:"collect_every_ms"`
		BroadcastEveryMs  int  `toml:"broadcast_every_ms"`
		ShutdownTimeoutMs int  `toml:"shutdown_timeout_ms"`
	} `toml:"app"`

	API struct {
		Listen string `toml:"listen"`
	} `toml:"api"`

	Market struct {
		LimitUpThreshold float64 `toml:"limit_up_threshold"`
		PriceScale       float64 `toml:"price_scale"`
	} `toml:"market"`

	// Memory describes the quote table inside the terminal process. The offsets
	// are tied to one specific build of the terminal; a new build means a new
	// config file, never a code change.
	Memory struct {
		Process     string `toml:"process"`
		BaseAddress int64  `toml:"base_address"`
		RowStride   int64  `toml:"row_stride"`
		Rows        int    `toml:"rows"`
		Offsets     struct {
			Code       int64 `toml:"code"`
			PrevClose  int64 `toml:"prev_close"`
			Open       int64 `toml:"open"`
			High       int64 `toml:"high"`
			Low        int64 `toml:"low"`
			Current    int64 `toml:"current"`
			Volume     int64 `toml:"volume"`
			CurVolume  int64 `toml:"current_volume"`
			BuyVolume  int64 `toml:"buy_volume"`
			SellVolume int64 `toml:"sell_volume"`
			SellPrice  int64 `toml:"sell_price"`
		} `toml:"offsets"`
	} `toml:"memory"`

	Store struct {
		Backend     string `toml:"backend"` // sqlite | postgres
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"store"`

	Redis struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
		Prefix  string `toml:"prefix"`
		TTLSec  int    `toml:"ttl_sec"`
	} `toml:"redis"`

	Import struct {
		Encodings []string `toml:"encodings"`

		History struct {
			Enabled  bool   `toml:"enabled"`
			DailyDir string `toml:"daily_dir"`
			Min5Dir  string `toml:"min5_dir"`
			Min1Dir  string `toml:"min1_dir"`
		} `toml:"history"`

		Sectors struct {
			Enabled bool   `toml:"enabled"`
			Dir     string `toml:"dir"`
		} `toml:"sectors"`
	} `toml:"import"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.CollectEveryMs <= 0 {
		cfg.App.CollectEveryMs = 1000
	}
	if cfg.App.BroadcastEveryMs <= 0 {
		cfg.App.BroadcastEveryMs = 1000
	}
	if cfg.App.ShutdownTimeoutMs <= 0 {
		cfg.App.ShutdownTimeoutMs = 5000
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":5000"
	}
	if cfg.Market.LimitUpThreshold <= 0 {
		cfg.Market.LimitUpThreshold = 9.9
	}
	if cfg.Market.PriceScale <= 0 {
		cfg.Market.PriceScale = 1000
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "data/tdxmon.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "tdxmon"
	}
	if len(cfg.Import.Encodings) == 0 {
		cfg.Import.Encodings = []string{"utf-8", "gbk", "gb18030"}
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Store.PostgresDSN) == "" {
			return errors.New("store.postgres_dsn empty but backend is postgres")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}

	if strings.TrimSpace(cfg.Memory.Process) == "" {
		return errors.New("memory.process is empty")
	}
	if cfg.Memory.RowStride <= 0 {
		return errors.New("memory.row_stride must be positive")
	}
	if cfg.Memory.Rows <= 0 {
		return errors.New("memory.rows must be positive")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	return nil
}
