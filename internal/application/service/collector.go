package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
	"tdxmon/internal/infrastructure/memtable"
	"tdxmon/internal/infrastructure/procmem"
)

type CollectorDeps struct {
	Open      procmem.OpenFunc
	Process   string // target process name, e.g. tdxw.exe
	Layout    memtable.Layout
	Store     port.Store
	Period    time.Duration
	Threshold float64 // limit-up threshold in percent
	Scale     float64 // fixed-point price divisor of the terminal build
	Now       func() time.Time
}

// Collector drives the fixed-period write path: one bulk memory read per tick,
// then decode, compute and store per row. It is the sole writer of realtime
// quotes and limit-up events.
type Collector struct {
	deps CollectorDeps
	proc procmem.Process

	// flagged tracks codes that crossed the threshold today, so the store keeps
	// seeing their ticks after a dip and can count board breaks and rebounds.
	flaggedDate string
	flagged     map[string]struct{}
}

func NewCollector(deps CollectorDeps) *Collector {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Scale <= 0 {
		deps.Scale = 1000
	}
	return &Collector{deps: deps, flagged: map[string]struct{}{}}
}

// Run ticks until ctx is cancelled. The in-flight tick always finishes; the
// process handle is released on the way out.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.deps.Layout.Validate(); err != nil {
		return fmt.Errorf("memory layout: %w", err)
	}

	ticker := time.NewTicker(c.deps.Period)
	defer ticker.Stop()
	defer c.closeProc()

	log.Info().
		Str("process", c.deps.Process).
		Int("rows", c.deps.Layout.Rows).
		Dur("period", c.deps.Period).
		Msg("collector started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

// collectOnce runs one tick. Row-level failures are logged and skipped; only
// the memory window read aborts the tick, and even that just waits for the
// next one.
func (c *Collector) collectOnce(ctx context.Context) {
	if c.proc == nil {
		proc, err := c.deps.Open(c.deps.Process)
		if err != nil {
			log.Warn().Err(err).Str("process", c.deps.Process).Msg("target process unavailable, retrying next tick")
			return
		}
		c.proc = proc
		log.Info().Int("pid", proc.Pid()).Msg("attached to target process")
	}

	addr, length := c.deps.Layout.Window()
	buf := make([]byte, length)
	if err := c.proc.ReadAt(addr, buf); err != nil {
		log.Warn().Err(err).Msg("window read failed, dropping process handle")
		c.closeProc()
		return
	}

	now := c.deps.Now()
	date := now.Format("2006-01-02")
	if date != c.flaggedDate {
		c.flaggedDate = date
		c.flagged = map[string]struct{}{}
	}

	for row := 0; row < c.deps.Layout.Rows; row++ {
		if err := c.collectRow(ctx, buf, row, now, date); err != nil {
			log.Debug().Err(err).Int("row", row).Msg("row skipped")
		}
	}
}

func (c *Collector) collectRow(ctx context.Context, buf []byte, row int, now time.Time, date string) error {
	raw, err := c.deps.Layout.DecodeRow(buf, row)
	if err != nil {
		return err
	}
	if raw.Code == 0 {
		// unused row in the table window
		return nil
	}
	code := fmt.Sprintf("%06d", raw.Code)

	price := func(v uint32) float64 { return float64(v) / c.deps.Scale }
	current := price(raw.Current)
	prevClose := price(raw.PrevClose)

	met, err := ComputeMetrics(current, prevClose, c.deps.Threshold)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", code, err)
	}

	quote := &model.RealtimeQuote{
		Code:          code,
		Current:       current,
		Open:          price(raw.Open),
		High:          price(raw.High),
		Low:           price(raw.Low),
		PrevClose:     prevClose,
		Volume:        int64(raw.Volume),
		ChangeAmount:  met.ChangeAmount,
		ChangePercent: met.ChangePercent,
		UpdatedAt:     now,
	}
	if err := c.deps.Store.UpsertRealtimeQuote(ctx, quote); err != nil {
		return fmt.Errorf("upsert quote %s: %w", code, err)
	}

	_, seen := c.flagged[code]
	if met.LimitUp || seen {
		if err := c.deps.Store.UpsertLimitUpEvent(ctx, code, quote.Name, date, met.ChangePercent, now); err != nil {
			return fmt.Errorf("upsert limit-up %s: %w", code, err)
		}
		if met.LimitUp {
			c.flagged[code] = struct{}{}
		}
	}
	return nil
}

func (c *Collector) closeProc() {
	if c.proc != nil {
		_ = c.proc.Close()
		c.proc = nil
	}
}
