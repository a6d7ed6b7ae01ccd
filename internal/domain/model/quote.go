package model

import "time"

// RealtimeQuote 实时行情, one logical row per instrument, latest wins.
type RealtimeQuote struct {
	Code          string    `json:"code"`
	Name          string    `json:"name,omitempty"`
	Current       float64   `json:"current"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PrevClose     float64   `json:"prev_close"`
	Volume        int64     `json:"volume"`
	Turnover      float64   `json:"turnover"` // 成交额
	ChangeAmount  float64   `json:"change_amount"`
	ChangePercent float64   `json:"change_percent"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LimitUpEvent 涨停事件, keyed by (code, trading date). Created the first time the
// change percent crosses the limit-up threshold on that date, updated afterwards.
type LimitUpEvent struct {
	Code             string  `json:"code"`
	Name             string  `json:"name,omitempty"`
	Date             string  `json:"date"` // 2006-01-02
	ChangePercent    float64 `json:"change_percent"`
	ContinuousCount  int     `json:"continuous_limit_up"` // 连板数
	FirstLimitUpTime string  `json:"first_limit_up_time"` // 15:04:05
	BreakCount       int     `json:"break_limit_up_times"` // 打开涨停次数
	Rebound          bool    `json:"rebound_limit_up"`     // 反包涨停
}
