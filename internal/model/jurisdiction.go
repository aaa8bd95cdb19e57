package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// JurisdictionType enum constants. STATE/COUNTY/CITY polygons of the same
// type never overlap; SPECIAL districts may overlap anything.
const (
	JurisdictionState   = "STATE"
	JurisdictionCounty  = "COUNTY"
	JurisdictionCity    = "CITY"
	JurisdictionSpecial = "SPECIAL"
)

// Jurisdiction is a taxing area backed by a PostGIS multipolygon.
// The geometry column is written and queried with raw SQL only; GORM never
// needs to scan it, so it is declared as a plain geometry column.
type Jurisdiction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"type:varchar(20);not null;index" json:"type"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	FipsCode  *string   `gorm:"column:fips_code;type:varchar(10);index" json:"fips_code"`
	StateCode string    `gorm:"column:state_code;type:varchar(2);not null" json:"state_code"`
	Geom      string    `gorm:"type:geometry(MultiPolygon,4326);not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Jurisdiction) TableName() string { return "geo_jurisdictions" }

// TaxRate stores a jurisdiction rate with a calendar validity window.
// ValidTo nil means open-ended.
type TaxRate struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	JurisdictionID int64           `gorm:"column:jurisdiction_id;not null;index" json:"jurisdiction_id"`
	Jurisdiction   *Jurisdiction   `gorm:"foreignKey:JurisdictionID" json:"-"`
	RateType       string          `gorm:"column:rate_type;type:varchar(20);not null;index" json:"rate_type"`
	Rate           decimal.Decimal `gorm:"type:decimal(8,6);not null" json:"rate"`
	ValidFrom      time.Time       `gorm:"column:valid_from;type:date;not null;index" json:"valid_from"`
	ValidTo        *time.Time      `gorm:"column:valid_to;type:date;index" json:"valid_to"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TaxRate) TableName() string { return "tax_rates" }
