package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
	"tdxmon/internal/infrastructure/storage"
)

// Repo is the postgres Store backend, selected by store.backend = "postgres".
// Same contract and schema shape as the sqlite backend.
type Repo struct {
	db        *sql.DB
	threshold float64
}

func New(dsn string, limitUpThreshold float64) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db, threshold: limitUpThreshold}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS stock_realtime (
  stock_code TEXT PRIMARY KEY,
  stock_name TEXT,
  current_price DOUBLE PRECISION NOT NULL,
  open_price DOUBLE PRECISION NOT NULL,
  high_price DOUBLE PRECISION NOT NULL,
  low_price DOUBLE PRECISION NOT NULL,
  prev_close DOUBLE PRECISION NOT NULL,
  volume BIGINT NOT NULL,
  turnover DOUBLE PRECISION NOT NULL,
  change_percent DOUBLE PRECISION NOT NULL,
  change_amount DOUBLE PRECISION NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_limit_up (
  stock_code TEXT NOT NULL,
  date TEXT NOT NULL,
  stock_name TEXT,
  change_percent DOUBLE PRECISION NOT NULL,
  continuous_limit_up INT NOT NULL,
  first_limit_up_time TEXT NOT NULL,
  break_limit_up_times INT NOT NULL DEFAULT 0,
  rebound_limit_up INT NOT NULL DEFAULT 0,
  PRIMARY KEY(stock_code, date)
);

CREATE TABLE IF NOT EXISTS stock_daily (
  stock_code TEXT NOT NULL,
  stock_name TEXT,
  trade_date TEXT NOT NULL,
  open_price DOUBLE PRECISION NOT NULL,
  high_price DOUBLE PRECISION NOT NULL,
  low_price DOUBLE PRECISION NOT NULL,
  close_price DOUBLE PRECISION NOT NULL,
  volume BIGINT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  PRIMARY KEY(stock_code, trade_date)
);

CREATE TABLE IF NOT EXISTS stock_5min (
  stock_code TEXT NOT NULL,
  stock_name TEXT,
  trade_date TEXT NOT NULL,
  trade_time TEXT NOT NULL,
  open_price DOUBLE PRECISION NOT NULL,
  high_price DOUBLE PRECISION NOT NULL,
  low_price DOUBLE PRECISION NOT NULL,
  close_price DOUBLE PRECISION NOT NULL,
  volume BIGINT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  PRIMARY KEY(stock_code, trade_date, trade_time)
);

CREATE TABLE IF NOT EXISTS stock_1min (
  stock_code TEXT NOT NULL,
  stock_name TEXT,
  trade_date TEXT NOT NULL,
  trade_time TEXT NOT NULL,
  open_price DOUBLE PRECISION NOT NULL,
  high_price DOUBLE PRECISION NOT NULL,
  low_price DOUBLE PRECISION NOT NULL,
  close_price DOUBLE PRECISION NOT NULL,
  volume BIGINT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  PRIMARY KEY(stock_code, trade_date, trade_time)
);

CREATE TABLE IF NOT EXISTS stock_sector (
  sector_code TEXT PRIMARY KEY,
  sector_name TEXT NOT NULL,
  sector_type TEXT NOT NULL,
  stock_count INT NOT NULL DEFAULT 0,
  update_time BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_sector_relation (
  stock_code TEXT NOT NULL,
  stock_name TEXT NOT NULL,
  sector_code TEXT NOT NULL,
  sector_type TEXT NOT NULL,
  weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  is_leader INT NOT NULL DEFAULT 0,
  PRIMARY KEY(stock_code, sector_code)
);

CREATE TABLE IF NOT EXISTS sector_type (
  type_code TEXT PRIMARY KEY,
  type_name TEXT NOT NULL,
  description TEXT
);
`)
	if err != nil {
		return err
	}
	return r.seedSectorTypes(ctx)
}

func (r *Repo) seedSectorTypes(ctx context.Context) error {
	rows := [][3]string{
		{string(model.SectorRegion), "地区板块", "按照地理位置划分的板块"},
		{string(model.SectorStyle), "风格板块", "按照股票特征划分的板块"},
		{string(model.SectorConcept), "概念板块", "按照概念题材划分的板块"},
		{string(model.SectorIndustry), "行业板块", "按照行业属性划分的板块"},
		{string(model.SectorIndex), "指数板块", "各类股票指数"},
	}
	for _, row := range rows {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO sector_type(type_code, type_name, description) VALUES($1, $2, $3)
			ON CONFLICT(type_code) DO UPDATE SET type_name=excluded.type_name, description=excluded.description
		`, row[0], row[1], row[2])
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) UpsertRealtimeQuote(ctx context.Context, q *model.RealtimeQuote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_realtime(stock_code, stock_name, current_price, open_price, high_price,
			low_price, prev_close, volume, turnover, change_percent, change_amount, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT(stock_code) DO UPDATE SET
		stock_name=excluded.stock_name, current_price=excluded.current_price,
		open_price=excluded.open_price, high_price=excluded.high_price,
		low_price=excluded.low_price, prev_close=excluded.prev_close,
		volume=excluded.volume, turnover=excluded.turnover,
		change_percent=excluded.change_percent, change_amount=excluded.change_amount,
		updated_at=excluded.updated_at
	`, q.Code, q.Name, q.Current, q.Open, q.High, q.Low, q.PrevClose,
		q.Volume, q.Turnover, q.ChangePercent, q.ChangeAmount, q.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert quote %s: %w", q.Code, err)
	}
	return nil
}

func (r *Repo) UpsertLimitUpEvent(ctx context.Context, code, name, date string, percent float64, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("limit-up %s@%s: begin: %w", code, date, err)
	}
	defer tx.Rollback()

	var prevPercent float64
	var breaks, rebound int
	err = tx.QueryRowContext(ctx, `
		SELECT change_percent, break_limit_up_times, rebound_limit_up
		FROM stock_limit_up WHERE stock_code=$1 AND date=$2
	`, code, date).Scan(&prevPercent, &breaks, &rebound)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if percent < r.threshold {
			return nil
		}
		cont := 1
		if d, perr := time.Parse(storage.DateLayout, date); perr == nil {
			prevDate := storage.PrevTradingDay(d).Format(storage.DateLayout)
			var prevCont int
			qerr := tx.QueryRowContext(ctx, `
				SELECT continuous_limit_up FROM stock_limit_up WHERE stock_code=$1 AND date=$2
			`, code, prevDate).Scan(&prevCont)
			switch {
			case qerr == nil:
				cont = storage.ContinuousCount(prevCont, true)
			case !errors.Is(qerr, sql.ErrNoRows):
				return fmt.Errorf("limit-up %s@%s: prior day lookup: %w", code, date, qerr)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_limit_up(stock_code, date, stock_name, change_percent,
				continuous_limit_up, first_limit_up_time, break_limit_up_times, rebound_limit_up)
			VALUES($1, $2, $3, $4, $5, $6, 0, 0)
		`, code, date, name, percent, cont, at.Format(storage.TimeLayout))
		if err != nil {
			return fmt.Errorf("limit-up %s@%s: insert: %w", code, date, err)
		}

	case err == nil:
		if percent < r.threshold && prevPercent >= r.threshold {
			breaks++
		}
		if percent >= r.threshold && prevPercent < r.threshold && breaks > 0 {
			rebound = 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_limit_up
			SET change_percent=$1, break_limit_up_times=$2, rebound_limit_up=$3
			WHERE stock_code=$4 AND date=$5
		`, percent, breaks, rebound, code, date)
		if err != nil {
			return fmt.Errorf("limit-up %s@%s: update: %w", code, date, err)
		}

	default:
		return fmt.Errorf("limit-up %s@%s: lookup: %w", code, date, err)
	}

	return tx.Commit()
}

func (r *Repo) QueryLimitUpEvent(ctx context.Context, code, date string) (*model.LimitUpEvent, error) {
	var ev model.LimitUpEvent
	var rebound int
	err := r.db.QueryRowContext(ctx, `
		SELECT stock_code, COALESCE(stock_name, ''), date, change_percent,
			continuous_limit_up, first_limit_up_time, break_limit_up_times, rebound_limit_up
		FROM stock_limit_up WHERE stock_code=$1 AND date=$2
	`, code, date).Scan(&ev.Code, &ev.Name, &ev.Date, &ev.ChangePercent,
		&ev.ContinuousCount, &ev.FirstLimitUpTime, &ev.BreakCount, &rebound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("limit-up %s@%s: %w", code, date, port.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ev.Rebound = rebound != 0
	return &ev, nil
}

func barTable(g model.Granularity) (string, error) {
	switch g {
	case model.GranularityDaily:
		return "stock_daily", nil
	case model.Granularity5Min:
		return "stock_5min", nil
	case model.Granularity1Min:
		return "stock_1min", nil
	}
	return "", fmt.Errorf("unknown granularity %q", g)
}

func (r *Repo) BatchUpsertHistoricalBars(ctx context.Context, g model.Granularity, bars []model.HistoricalBar) error {
	if len(bars) == 0 {
		return nil
	}
	table, err := barTable(g)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch bars %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	for _, b := range bars {
		if g.Intraday() {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO `+table+`(stock_code, stock_name, trade_date, trade_time,
					open_price, high_price, low_price, close_price, volume, amount)
				VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT(stock_code, trade_date, trade_time) DO UPDATE SET
				stock_name=excluded.stock_name, open_price=excluded.open_price,
				high_price=excluded.high_price, low_price=excluded.low_price,
				close_price=excluded.close_price, volume=excluded.volume, amount=excluded.amount
			`, b.Code, b.Name, b.Date, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO `+table+`(stock_code, stock_name, trade_date,
					open_price, high_price, low_price, close_price, volume, amount)
				VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT(stock_code, trade_date) DO UPDATE SET
				stock_name=excluded.stock_name, open_price=excluded.open_price,
				high_price=excluded.high_price, low_price=excluded.low_price,
				close_price=excluded.close_price, volume=excluded.volume, amount=excluded.amount
			`, b.Code, b.Name, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount)
		}
		if err != nil {
			return fmt.Errorf("batch bars %s: %s@%s: %w", table, b.Code, b.Date, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) ReplaceSectorMembership(ctx context.Context, meta model.SectorRecord, members []model.SectorMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sector %s: begin: %w", meta.Code, err)
	}
	defer tx.Rollback()

	updated := meta.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_sector(sector_code, sector_name, sector_type, stock_count, update_time)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT(sector_code) DO UPDATE SET
		sector_name=excluded.sector_name, sector_type=excluded.sector_type,
		stock_count=excluded.stock_count, update_time=excluded.update_time
	`, meta.Code, meta.Name, string(meta.Type), len(members), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("sector %s: upsert meta: %w", meta.Code, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_sector_relation WHERE sector_code=$1`, meta.Code); err != nil {
		return fmt.Errorf("sector %s: clear members: %w", meta.Code, err)
	}
	for _, m := range members {
		leader := 0
		if m.Leader {
			leader = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_sector_relation(stock_code, stock_name, sector_code, sector_type, weight, is_leader)
			VALUES($1, $2, $3, $4, $5, $6)
		`, m.StockCode, m.StockName, meta.Code, string(meta.Type), m.Weight, leader)
		if err != nil {
			return fmt.Errorf("sector %s: insert member %s: %w", meta.Code, m.StockCode, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) QuerySectorsByType(ctx context.Context, t model.SectorType) ([]model.SectorRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sector_code, sector_name, sector_type, stock_count, update_time
		FROM stock_sector WHERE sector_type=$1 ORDER BY sector_code
	`, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SectorRecord
	for rows.Next() {
		var s model.SectorRecord
		var typ string
		var ts int64
		if err := rows.Scan(&s.Code, &s.Name, &typ, &s.StockCount, &ts); err != nil {
			return nil, err
		}
		s.Type = model.SectorType(typ)
		s.UpdatedAt = time.UnixMilli(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) QuerySectorMembers(ctx context.Context, sectorCode string) ([]model.SectorMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stock_code, stock_name, sector_code, sector_type, weight, is_leader
		FROM stock_sector_relation WHERE sector_code=$1 ORDER BY stock_code
	`, sectorCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SectorMember
	for rows.Next() {
		var m model.SectorMember
		var typ string
		var leader int
		if err := rows.Scan(&m.StockCode, &m.StockName, &m.SectorCode, &typ, &m.Weight, &leader); err != nil {
			return nil, err
		}
		m.SectorType = model.SectorType(typ)
		m.Leader = leader != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

const quoteColumns = `stock_code, COALESCE(stock_name, ''), current_price, open_price, high_price,
	low_price, prev_close, volume, turnover, change_percent, change_amount, updated_at`

func scanQuote(scan func(dest ...any) error) (model.RealtimeQuote, error) {
	var q model.RealtimeQuote
	var ts int64
	err := scan(&q.Code, &q.Name, &q.Current, &q.Open, &q.High, &q.Low,
		&q.PrevClose, &q.Volume, &q.Turnover, &q.ChangePercent, &q.ChangeAmount, &ts)
	if err != nil {
		return q, err
	}
	q.UpdatedAt = time.UnixMilli(ts)
	return q, nil
}

func (r *Repo) QueryLatestSnapshot(ctx context.Context) ([]model.RealtimeQuote, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM stock_realtime ORDER BY stock_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RealtimeQuote
	for rows.Next() {
		q, err := scanQuote(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *Repo) QueryInstrumentDetail(ctx context.Context, code string) (*model.RealtimeQuote, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM stock_realtime WHERE stock_code=$1`, code)
	q, err := scanQuote(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", code, port.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

var _ port.Store = (*Repo)(nil)
