package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
	"tdxmon/internal/application/service"
	"tdxmon/internal/domain/model"
	"tdxmon/internal/infrastructure/config"
	"tdxmon/internal/infrastructure/importer"
	"tdxmon/internal/infrastructure/logger"
	"tdxmon/internal/infrastructure/memtable"
	"tdxmon/internal/infrastructure/procmem"
	"tdxmon/internal/infrastructure/storage/postgres"
	rediscache "tdxmon/internal/infrastructure/storage/redis"
	"tdxmon/internal/infrastructure/storage/sqlite"
	"tdxmon/internal/interfaces/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup(false)
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("store init failed")
	}
	defer store.Close()

	var cache *rediscache.Cache
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		cache = rediscache.NewCache(rdb, cfg.Redis.Prefix, time.Duration(cfg.Redis.TTLSec)*time.Second)
		defer cache.Close()
	}

	runImports(ctx, cfg, store)

	layout := memtable.Layout{
		Base:      uintptr(cfg.Memory.BaseAddress),
		RowStride: cfg.Memory.RowStride,
		Rows:      cfg.Memory.Rows,
		Fields: memtable.FieldOffsets{
			Code:       cfg.Memory.Offsets.Code,
			PrevClose:  cfg.Memory.Offsets.PrevClose,
			Open:       cfg.Memory.Offsets.Open,
			High:       cfg.Memory.Offsets.High,
			Low:        cfg.Memory.Offsets.Low,
			Current:    cfg.Memory.Offsets.Current,
			Volume:     cfg.Memory.Offsets.Volume,
			CurVolume:  cfg.Memory.Offsets.CurVolume,
			BuyVolume:  cfg.Memory.Offsets.BuyVolume,
			SellVolume: cfg.Memory.Offsets.SellVolume,
			SellPrice:  cfg.Memory.Offsets.SellPrice,
		},
	}

	collector := service.NewCollector(service.CollectorDeps{
		Open:      procmem.Open,
		Process:   cfg.Memory.Process,
		Layout:    layout,
		Store:     store,
		Period:    time.Duration(cfg.App.CollectEveryMs) * time.Millisecond,
		Threshold: cfg.Market.LimitUpThreshold,
		Scale:     cfg.Market.PriceScale,
	})

	var hubCache stream.SnapshotCache
	if cache != nil {
		hubCache = cache
	}
	hub := stream.NewHub(store, hubCache, time.Duration(cfg.App.BroadcastEveryMs)*time.Millisecond)

	mux := http.NewServeMux()
	stream.NewHandler(hub, store).Register(mux)
	srv := &http.Server{Addr: cfg.API.Listen, Handler: mux}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := collector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("collector exited")
		}
	}()
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("distributor exited")
		}
	}()
	go func() {
		log.Info().Str("listen", cfg.API.Listen).Msg("api server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server failed")
			stop()
		}
	}()

	log.Info().
		Str("config", *configPath).
		Str("process", cfg.Memory.Process).
		Str("backend", cfg.Store.Backend).
		Msg("tdxmon started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.App.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}
	// both loops finish their in-flight tick before the store is closed
	wg.Wait()
	log.Info().Msg("tdxmon stopped")
}

func openStore(cfg *config.Config) (port.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return postgres.New(cfg.Store.PostgresDSN, cfg.Market.LimitUpThreshold)
	default:
		return sqlite.New(cfg.Store.SQLitePath, cfg.Market.LimitUpThreshold)
	}
}

func runImports(ctx context.Context, cfg *config.Config, store port.Store) {
	if cfg.Import.Sectors.Enabled {
		imp := importer.NewSectorImporter(store, cfg.Import.Encodings)
		if err := imp.ImportDir(ctx, cfg.Import.Sectors.Dir); err != nil {
			log.Error().Err(err).Msg("sector import failed")
		}
	}
	if cfg.Import.History.Enabled {
		imp := importer.NewHistoryImporter(store, cfg.Import.Encodings)
		dirs := []struct {
			dir string
			g   model.Granularity
		}{
			{cfg.Import.History.DailyDir, model.GranularityDaily},
			{cfg.Import.History.Min5Dir, model.Granularity5Min},
			{cfg.Import.History.Min1Dir, model.Granularity1Min},
		}
		for _, d := range dirs {
			if d.dir == "" {
				continue
			}
			if err := imp.ImportDir(ctx, d.dir, d.g); err != nil {
				log.Error().Err(err).Str("dir", d.dir).Msg("history import failed")
			}
		}
	}
}
