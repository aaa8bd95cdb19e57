package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enum constants
const (
	OrderStatusAdded            = "ADDED"
	OrderStatusCalculated       = "CALCULATED"
	OrderStatusOutOfScope       = "OUT_OF_SCOPE"
	OrderStatusFailedValidation = "FAILED_VALIDATION"
)

// SpecialRateEntry is one overlapping special-district rate applied to an order.
type SpecialRateEntry struct {
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

// JurisdictionSnapshot captures the matched jurisdictions at calculation time.
// COUNTY/CITY/STATE hold at most one name each; special districts stack freely.
type JurisdictionSnapshot struct {
	State   *string  `json:"state"`
	County  *string  `json:"county"`
	City    *string  `json:"city"`
	Special []string `json:"special"`
}

// Order is a geocoded transaction. Tax fields stay nil until the calculation
// engine moves the order from ADDED to CALCULATED; an order that matches no
// jurisdiction at all ends as OUT_OF_SCOPE instead.
type Order struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID *int64          `gorm:"column:external_id;uniqueIndex" json:"external_id"`
	Latitude   decimal.Decimal `gorm:"type:decimal(10,7);not null" json:"latitude"`
	Longitude  decimal.Decimal `gorm:"type:decimal(10,7);not null" json:"longitude"`
	Timestamp  int64           `gorm:"not null" json:"timestamp"` // epoch millis
	Subtotal   decimal.Decimal `gorm:"type:decimal(14,4);not null" json:"subtotal"`
	Status     string          `gorm:"type:varchar(20);not null;index;default:ADDED" json:"status"`

	CSVImported bool       `gorm:"column:csv_imported;not null;default:false" json:"csv_imported"`
	CreatedBy   *uuid.UUID `gorm:"type:uuid" json:"created_by"`

	CompositeTaxRate *decimal.Decimal      `gorm:"column:composite_tax_rate;type:decimal(8,6)" json:"composite_tax_rate"`
	TaxAmount        *decimal.Decimal      `gorm:"type:decimal(14,4)" json:"tax_amount"`
	TotalAmount      *decimal.Decimal      `gorm:"type:decimal(14,4)" json:"total_amount"`
	StateRate        *decimal.Decimal      `gorm:"type:decimal(8,6)" json:"state_rate"`
	CountyRate       *decimal.Decimal      `gorm:"type:decimal(8,6)" json:"county_rate"`
	CityRate         *decimal.Decimal      `gorm:"type:decimal(8,6)" json:"city_rate"`
	SpecialRates     []SpecialRateEntry    `gorm:"type:jsonb;serializer:json" json:"special_rates"`
	Jurisdictions    *JurisdictionSnapshot `gorm:"type:jsonb;serializer:json" json:"jurisdictions"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
