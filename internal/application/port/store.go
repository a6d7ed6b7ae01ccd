package port

import (
	"context"
	"errors"
	"time"

	"tdxmon/internal/domain/model"
)

// ErrNotFound is returned by point queries when no row exists for the key.
var ErrNotFound = errors.New("not found")

// Store is the transactional persistence boundary shared by the collector, the
// stream distributor and the importers. Every operation either fully applies or
// fully rolls back; concurrent callers only ever observe committed state.
type Store interface {
	// Realtime quotes (collector is the sole writer).
	UpsertRealtimeQuote(ctx context.Context, q *model.RealtimeQuote) error

	// Limit-up events. Insert if absent for (code, date), update otherwise.
	// Continuous-count and break/rebound policy is owned by the store layer.
	UpsertLimitUpEvent(ctx context.Context, code, name, date string, percent float64, at time.Time) error
	QueryLimitUpEvent(ctx context.Context, code, date string) (*model.LimitUpEvent, error)

	// Historical bars (importers are the sole writers). One transaction,
	// all-or-nothing, duplicate keys overwrite.
	BatchUpsertHistoricalBars(ctx context.Context, g model.Granularity, bars []model.HistoricalBar) error

	// Sector data. The member set for meta.Code is fully replaced in one
	// transaction together with the metadata upsert.
	ReplaceSectorMembership(ctx context.Context, meta model.SectorRecord, members []model.SectorMember) error

	QuerySectorsByType(ctx context.Context, t model.SectorType) ([]model.SectorRecord, error)
	QuerySectorMembers(ctx context.Context, sectorCode string) ([]model.SectorMember, error)
	QueryLatestSnapshot(ctx context.Context) ([]model.RealtimeQuote, error)
	QueryInstrumentDetail(ctx context.Context, code string) (*model.RealtimeQuote, error)

	Close() error
}
