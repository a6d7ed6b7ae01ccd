package model

import "time"

// SectorType 板块类型, fixed enumeration seeded into the store at migration.
type SectorType string

const (
	SectorRegion   SectorType = "region"   // 地区板块
	SectorStyle    SectorType = "style"    // 风格板块
	SectorConcept  SectorType = "concept"  // 概念板块
	SectorIndustry SectorType = "industry" // 行业板块
	SectorIndex    SectorType = "index"    // 指数板块
)

// SectorTypes lists every known type in seed order.
func SectorTypes() []SectorType {
	return []SectorType{SectorRegion, SectorStyle, SectorConcept, SectorIndustry, SectorIndex}
}

func (t SectorType) Valid() bool {
	switch t {
	case SectorRegion, SectorStyle, SectorConcept, SectorIndustry, SectorIndex:
		return true
	}
	return false
}

// SectorRecord 板块元数据.
type SectorRecord struct {
	Code       string     `json:"sector_code"`
	Name       string     `json:"sector_name"`
	Type       SectorType `json:"sector_type"`
	StockCount int        `json:"stock_count"`
	UpdatedAt  time.Time  `json:"update_time"`
}

// SectorMember is one (stock, sector) pair. A sector's member set is replaced
// atomically on every import.
type SectorMember struct {
	StockCode  string     `json:"stock_code"`
	StockName  string     `json:"stock_name"`
	SectorCode string     `json:"sector_code"`
	SectorType SectorType `json:"sector_type"`
	Weight     float64    `json:"weight"`
	Leader     bool       `json:"is_leader"` // 龙头股
}
