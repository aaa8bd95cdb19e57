package repository

import (
	"context"
	"fmt"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"gorm.io/gorm"
)

// calculateSQL resolves jurisdictions and rates for a set of pending orders
// in one statement and writes the computed tax fields.
//
// Semantics:
//   - ST_Covers gives inclusive boundary containment, so a point sitting
//     exactly on a polygon edge still matches.
//   - active_rates keeps one rate per (jurisdiction, rate_type): the rate
//     whose validity window contains today, most recently effective first.
//   - STATE/COUNTY/CITY polygons of a type never overlap, so MAX(CASE ...)
//     collapses to the single matching rate (or 0 when absent). SPECIAL
//     districts stack, hence SUM.
//
// The %s placeholder scopes which pending orders the statement touches.
const calculateSQL = `
WITH active_rates AS (
    SELECT DISTINCT ON (jurisdiction_id, rate_type)
        jurisdiction_id, rate_type, rate
    FROM tax_rates
    WHERE valid_from <= CURRENT_DATE
      AND (valid_to IS NULL OR valid_to >= CURRENT_DATE)
    ORDER BY jurisdiction_id, rate_type, valid_from DESC
),
jurisdiction_rates AS (
    SELECT
        o.id                                                                   AS order_id,
        COALESCE(MAX(CASE WHEN ar.rate_type = 'STATE'   THEN ar.rate END), 0) AS state_rate,
        COALESCE(MAX(CASE WHEN ar.rate_type = 'COUNTY'  THEN ar.rate END), 0) AS county_rate,
        COALESCE(MAX(CASE WHEN ar.rate_type = 'CITY'    THEN ar.rate END), 0) AS city_rate,
        COALESCE(SUM(CASE WHEN ar.rate_type = 'SPECIAL' THEN ar.rate END), 0) AS special_sum,
        jsonb_agg(
            jsonb_build_object('name', j.name, 'rate', ar.rate)
        ) FILTER (WHERE ar.rate_type = 'SPECIAL')                              AS special_rates_json,
        jsonb_build_object(
            'state',   MAX(CASE WHEN j.type = 'STATE'   THEN j.name END),
            'county',  MAX(CASE WHEN j.type = 'COUNTY'  THEN j.name END),
            'city',    MAX(CASE WHEN j.type = 'CITY'    THEN j.name END),
            'special', jsonb_agg(j.name) FILTER (WHERE j.type = 'SPECIAL')
        )                                                                      AS jurisdictions_json
    FROM orders o
    JOIN geo_jurisdictions j
        ON ST_Covers(j.geom,
           ST_SetSRID(ST_MakePoint(CAST(o.longitude AS float8),
                                   CAST(o.latitude  AS float8)), 4326))
    JOIN active_rates ar
        ON ar.jurisdiction_id = j.id
    WHERE %s
    GROUP BY o.id
)
UPDATE orders o
SET
    state_rate         = jr.state_rate,
    county_rate        = jr.county_rate,
    city_rate          = jr.city_rate,
    special_rates      = jr.special_rates_json,
    composite_tax_rate = jr.state_rate + jr.county_rate + jr.city_rate + jr.special_sum,
    tax_amount         = o.subtotal * (jr.state_rate + jr.county_rate + jr.city_rate + jr.special_sum),
    total_amount       = o.subtotal * (1 + jr.state_rate + jr.county_rate + jr.city_rate + jr.special_sum),
    jurisdictions      = jr.jurisdictions_json,
    status             = 'CALCULATED',
    updated_at         = now()
FROM jurisdiction_rates jr
WHERE o.id = jr.order_id
`

// CalculationRepository is the set-based side of the calculation engine:
// everything here touches many rows per statement.
type CalculationRepository interface {
	CountPending(ctx context.Context) (int64, error)
	PendingIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error)
	CalculateByIDs(ctx context.Context, ids []int64) (int, error)
	CalculateOne(ctx context.Context, orderID int64) (bool, error)
	MarkPendingOutOfScope(ctx context.Context) (int, error)
	MarkOneOutOfScope(ctx context.Context, orderID int64) error
}

type calculationRepository struct {
	db *gorm.DB
}

func NewCalculationRepository(db *gorm.DB) CalculationRepository {
	return &calculationRepository{db: db}
}

func (r *calculationRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Order{}).
		Where("status = ?", model.OrderStatusAdded).
		Count(&count).Error
	return count, err
}

// PendingIDsAfter pages through pending orders by id so unmatched rows (which
// stay ADDED until the final out-of-scope sweep) are never revisited.
func (r *calculationRepository) PendingIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := GetDB(ctx, r.db).Model(&model.Order{}).
		Where("status = ? AND id > ?", model.OrderStatusAdded, afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *calculationRepository) CalculateByIDs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(calculateSQL, "o.status = 'ADDED' AND o.id IN ?")
	res := GetDB(ctx, r.db).Exec(sql, ids)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// CalculateOne resolves a single order; returns false when the point matched
// no jurisdiction and the order is still pending.
func (r *calculationRepository) CalculateOne(ctx context.Context, orderID int64) (bool, error) {
	sql := fmt.Sprintf(calculateSQL, "o.id = ? AND o.status = 'ADDED'")
	res := GetDB(ctx, r.db).Exec(sql, orderID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *calculationRepository) MarkPendingOutOfScope(ctx context.Context) (int, error) {
	res := GetDB(ctx, r.db).Model(&model.Order{}).
		Where("status = ?", model.OrderStatusAdded).
		Update("status", model.OrderStatusOutOfScope)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *calculationRepository) MarkOneOutOfScope(ctx context.Context, orderID int64) error {
	return GetDB(ctx, r.db).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusAdded).
		Update("status", model.OrderStatusOutOfScope).Error
}
