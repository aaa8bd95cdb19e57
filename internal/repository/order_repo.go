package repository

import (
	"context"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderFilter narrows the order listing. Nil/empty fields are ignored.
type OrderFilter struct {
	Status        string
	CSVImported   *bool
	TimestampFrom *int64
	TimestampTo   *int64
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id int64) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter, page, limit int) ([]model.Order, int64, error)

	// Bulk import paths. Writes happen in fixed-size statement groups.
	BatchInsertRows(ctx context.Context, rows []importer.Row, createdBy *uuid.UUID) (int, error)
	BatchOverwriteRows(ctx context.Context, rows []importer.Row) (int, error)

	ExistingExternalIDs(ctx context.Context, externalIDs []int64) (map[int64]bool, error)
	FindOutOfScopeExternalIDs(ctx context.Context, externalIDs []int64) ([]int64, error)
}

type orderRepository struct {
	db        *gorm.DB
	batchSize int
}

func NewOrderRepository(db *gorm.DB, batchSize int) OrderRepository {
	return &orderRepository{db: db, batchSize: batchSize}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Create(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter, page, limit int) ([]model.Order, int64, error) {
	db := GetDB(ctx, r.db).Model(&model.Order{})

	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.CSVImported != nil {
		db = db.Where("csv_imported = ?", *filter.CSVImported)
	}
	if filter.TimestampFrom != nil {
		db = db.Where("timestamp >= ?", *filter.TimestampFrom)
	}
	if filter.TimestampTo != nil {
		db = db.Where("timestamp <= ?", *filter.TimestampTo)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []model.Order
	offset := (page - 1) * limit
	if err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *orderRepository) BatchInsertRows(ctx context.Context, rows []importer.Row, createdBy *uuid.UUID) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	orders := make([]model.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, model.Order{
			ExternalID:  row.ExternalID,
			Latitude:    row.Latitude,
			Longitude:   row.Longitude,
			Timestamp:   row.Timestamp,
			Subtotal:    row.Subtotal,
			Status:      model.OrderStatusAdded,
			CSVImported: true,
			CreatedBy:   createdBy,
		})
	}

	if err := GetDB(ctx, r.db).CreateInBatches(&orders, r.batchSize).Error; err != nil {
		return 0, err
	}
	return len(orders), nil
}

// BatchOverwriteRows replaces the measured fields of existing orders and
// resets them to ADDED so the next recalculation picks them up. Identity and
// created-by fields are left untouched.
func (r *orderRepository) BatchOverwriteRows(ctx context.Context, rows []importer.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	total := 0
	err := GetDB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			res := tx.Exec(
				`UPDATE orders
				 SET latitude = ?, longitude = ?, timestamp = ?, subtotal = ?, status = ?, updated_at = now()
				 WHERE external_id = ?`,
				row.Latitude, row.Longitude, row.Timestamp, row.Subtotal,
				model.OrderStatusAdded, row.ExternalID,
			)
			if res.Error != nil {
				return res.Error
			}
			total += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *orderRepository) ExistingExternalIDs(ctx context.Context, externalIDs []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}

	var found []int64
	if err := GetDB(ctx, r.db).Model(&model.Order{}).
		Distinct("external_id").
		Where("external_id IN ?", externalIDs).
		Pluck("external_id", &found).Error; err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *orderRepository) FindOutOfScopeExternalIDs(ctx context.Context, externalIDs []int64) ([]int64, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}

	var found []int64
	if err := GetDB(ctx, r.db).Model(&model.Order{}).
		Distinct("external_id").
		Where("status = ? AND external_id IN ?", model.OrderStatusOutOfScope, externalIDs).
		Pluck("external_id", &found).Error; err != nil {
		return nil, err
	}
	return found, nil
}
