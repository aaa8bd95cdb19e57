package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type CreateOrderRequest struct {
	ExternalID *int64 `json:"external_id"`
	Latitude   string `json:"latitude" binding:"required"`  // Decimal string, e.g. "40.7128000"
	Longitude  string `json:"longitude" binding:"required"` // Decimal string, e.g. "-74.0060000"
	Timestamp  string `json:"timestamp"`                    // epoch millis, ISO-8601 or 'yyyy-MM-dd HH:mm:ss'; empty = now
	Subtotal   string `json:"subtotal" binding:"required"`  // Decimal string, must be > 0
}

// ImportStatus values of the synchronous import response.
const (
	ImportStatusCompleted           = "COMPLETED"
	ImportStatusCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	ImportStatusFailed              = "FAILED"
)

type ImportSummary struct {
	TotalRows            int `json:"totalRows"`
	ParsedRows           int `json:"parsedRows"`
	ImportedRows         int `json:"importedRows"`
	FailedRows           int `json:"failedRows"`
	SkippedDuplicateRows int `json:"skippedDuplicateRows"`
}

type ImportResult struct {
	TrackingID    string              `json:"trackingId"`
	Status        string              `json:"status"`
	Message       string              `json:"message"`
	Summary       ImportSummary       `json:"summary"`
	ErrorsPreview []importer.RowError `json:"errorsPreview"`
}

// CalculationRunner launches the background recalculation of an import batch.
type CalculationRunner interface {
	Run(trackingID string, externalIDs []int64, rowByExternalID map[int64]importer.Row, oosPolicy importer.OutOfScopePolicy)
}

// --- Interface ---

type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest, userID *uuid.UUID) (*model.Order, error)
	GetOrders(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]model.Order, int64, error)
	ImportFromCSV(ctx context.Context, r io.Reader, userID *uuid.UUID, duplicateHandling, outOfScopeHandling string) ImportResult
	CalculateAll(ctx context.Context, userID *uuid.UUID) (calculated, outOfScope int, err error)
}

type orderService struct {
	orderRepo   repository.OrderRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	parser      *importer.Parser
	calcService CalculationService
	trigger     CalculationRunner
	batchStore  *ImportBatchStore
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	parser *importer.Parser,
	calcService CalculationService,
	trigger CalculationRunner,
	batchStore *ImportBatchStore,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		parser:      parser,
		calcService: calcService,
		trigger:     trigger,
		batchStore:  batchStore,
	}
}

// --- Implementation ---

// CreateOrder persists a manual order and resolves it synchronously: the
// response already carries CALCULATED or OUT_OF_SCOPE.
func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest, userID *uuid.UUID) (*model.Order, error) {
	lat, lon, sub, err := parseOrderFields(req.Latitude, req.Longitude, req.Subtotal)
	if err != nil {
		return nil, err
	}

	ts, err := importer.ParseTimestamp(req.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	order := &model.Order{
		ExternalID:  req.ExternalID,
		Latitude:    lat,
		Longitude:   lon,
		Timestamp:   ts,
		Subtotal:    sub,
		Status:      model.OrderStatusAdded,
		CSVImported: false,
		CreatedBy:   userID,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.calcService.CalculateOrder(ctx, order.ID); err != nil {
		return nil, err
	}

	s.writeAuditLog(ctx, userID, model.ActionCreateOrder, fmt.Sprintf("%d", order.ID), "", req)

	return s.orderRepo.FindByID(ctx, order.ID)
}

func (s *orderService) GetOrders(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]model.Order, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 25
	}
	return s.orderRepo.List(ctx, filter, page, limit)
}

// ImportFromCSV runs the synchronous half of the import: validate, reconcile
// duplicates, batch-write, persist the row errors, then hand recalculation to
// a background task and return the summary immediately.
func (s *orderService) ImportFromCSV(ctx context.Context, r io.Reader, userID *uuid.UUID,
	duplicateHandling, outOfScopeHandling string) ImportResult {

	trackingID := uuid.NewString()
	dupPolicy := importer.DuplicatePolicyFrom(duplicateHandling)
	oosPolicy := importer.OutOfScopePolicyFrom(outOfScopeHandling)

	parsed, err := s.parser.Parse(r)
	if err != nil {
		return failedImport(trackingID, err.Error())
	}
	if parsed.TotalRows == 0 {
		return failedImport(trackingID, "CSV contained no data rows")
	}

	allErrors := append([]importer.RowError(nil), parsed.Errors...)

	rowByExternalID := make(map[int64]importer.Row)
	var externalIDs []int64
	for _, row := range parsed.ValidRows {
		if row.ExternalID == nil {
			continue
		}
		if _, seen := rowByExternalID[*row.ExternalID]; !seen {
			rowByExternalID[*row.ExternalID] = row
			externalIDs = append(externalIDs, *row.ExternalID)
		}
	}

	existing, err := s.orderRepo.ExistingExternalIDs(ctx, externalIDs)
	if err != nil {
		return failedImport(trackingID, "Failed to check existing external ids: "+err.Error())
	}

	rec := importer.Reconcile(parsed.ValidRows, existing, dupPolicy)
	allErrors = append(allErrors, rec.Errors...)

	// Inserts and overwrites of one upload commit or roll back together.
	var inserted, overwritten int
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		if inserted, txErr = s.orderRepo.BatchInsertRows(txCtx, rec.Insert, userID); txErr != nil {
			return txErr
		}
		overwritten, txErr = s.orderRepo.BatchOverwriteRows(txCtx, rec.Overwrite)
		return txErr
	})
	if err != nil {
		return failedImport(trackingID, "Failed to write rows: "+err.Error())
	}
	importedRows := inserted + overwritten

	s.batchStore.Save(trackingID, allErrors)

	if importedRows > 0 {
		go s.trigger.Run(trackingID, externalIDs, rowByExternalID, oosPolicy)
	}

	s.writeAuditLog(ctx, userID, model.ActionImportOrders, trackingID, "", map[string]interface{}{
		"imported": importedRows,
		"failed":   len(allErrors),
		"skipped":  rec.Skipped,
	})

	return buildImportResult(trackingID, parsed.TotalRows, importedRows, allErrors, rec.Skipped)
}

// CalculateAll is the manual bulk trigger: no tracking id, no progress
// events, just the final counts.
func (s *orderService) CalculateAll(ctx context.Context, userID *uuid.UUID) (int, int, error) {
	calculated, outOfScope, err := s.calcService.CalculatePending(ctx, nil)
	if err != nil {
		return calculated, outOfScope, err
	}

	s.writeAuditLog(ctx, userID, model.ActionBulkCalculation, "", "", map[string]interface{}{
		"calculated": calculated,
		"outOfScope": outOfScope,
	})

	return calculated, outOfScope, nil
}

// --- Helpers ---

var (
	latMin = decimal.NewFromInt(-90)
	latMax = decimal.NewFromInt(90)
	lonMin = decimal.NewFromInt(-180)
	lonMax = decimal.NewFromInt(180)
)

func parseOrderFields(latStr, lonStr, subStr string) (lat, lon, sub decimal.Decimal, err error) {
	lat, err = decimal.NewFromString(latStr)
	if err != nil {
		return lat, lon, sub, fmt.Errorf("invalid latitude value: %w", err)
	}
	lon, err = decimal.NewFromString(lonStr)
	if err != nil {
		return lat, lon, sub, fmt.Errorf("invalid longitude value: %w", err)
	}
	sub, err = decimal.NewFromString(subStr)
	if err != nil {
		return lat, lon, sub, fmt.Errorf("invalid subtotal value: %w", err)
	}

	if lat.LessThan(latMin) || lat.GreaterThan(latMax) {
		return lat, lon, sub, fmt.Errorf("latitude out of range [-90, 90]: %s", lat)
	}
	if lon.LessThan(lonMin) || lon.GreaterThan(lonMax) {
		return lat, lon, sub, fmt.Errorf("longitude out of range [-180, 180]: %s", lon)
	}
	if !sub.IsPositive() {
		return lat, lon, sub, fmt.Errorf("subtotal must be > 0, got: %s", sub)
	}
	return lat, lon, sub, nil
}

func buildImportResult(trackingID string, totalRows, importedRows int,
	errors []importer.RowError, skipped int) ImportResult {

	unparsed := 0
	for _, e := range errors {
		switch e.Reason {
		case importer.ReasonMissingColumn, importer.ReasonBadFormat, importer.ReasonInvalidTimestamp:
			unparsed++
		}
	}

	status := ImportStatusCompleted
	if len(errors) > 0 {
		status = ImportStatusCompletedWithErrors
	}

	return ImportResult{
		TrackingID: trackingID,
		Status:     status,
		Message: fmt.Sprintf("Imported %d orders. %d rows failed validation. Tax calculation is running in background.",
			importedRows, len(errors)),
		Summary: ImportSummary{
			TotalRows:            totalRows,
			ParsedRows:           totalRows - unparsed,
			ImportedRows:         importedRows,
			FailedRows:           len(errors),
			SkippedDuplicateRows: skipped,
		},
		ErrorsPreview: errors,
	}
}

// failedImport builds the synchronous FAILED response. Nothing is persisted
// under the tracking id: a structurally broken file leaves no tracking data.
func failedImport(trackingID, reason string) ImportResult {
	return ImportResult{
		TrackingID:    trackingID,
		Status:        ImportStatusFailed,
		Message:       reason,
		Summary:       ImportSummary{},
		ErrorsPreview: []importer.RowError{},
	}
}

func (s *orderService) writeAuditLog(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, details interface{}) {
	detailsJSON, _ := json.Marshal(details)

	entry := model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(detailsJSON),
	}

	// Best-effort: a failed audit write must not fail the operation.
	_ = s.auditRepo.Create(ctx, &entry)
}
