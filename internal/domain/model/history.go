package model

// Granularity selects which historical bar table a record belongs to.
type Granularity string

const (
	GranularityDaily Granularity = "daily"
	Granularity5Min  Granularity = "5min"
	Granularity1Min  Granularity = "1min"
)

func (g Granularity) Intraday() bool { return g != GranularityDaily }

// HistoricalBar 历史K线. Key is (code, date) for daily bars and (code, date, time)
// for intraday bars; writes are idempotent upserts.
type HistoricalBar struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Date   string  `json:"date"` // 2006-01-02
	Time   string  `json:"time,omitempty"` // 15:04:00, empty for daily
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	Amount float64 `json:"amount"`
}
