package service

import (
	"context"
	"log"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/progress"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"
)

const outOfScopeMessage = "Point is outside the state polygon."

// CalculationTrigger owns the background recalculation run of one import
// batch: it drives the engine, forwards batch progress to the progress store
// and, under the FAIL out-of-scope policy, maps out-of-scope records back to
// their source rows.
type CalculationTrigger struct {
	calcService   CalculationService
	orderRepo     repository.OrderRepository
	batchStore    *ImportBatchStore
	progressStore *progress.Store
}

func NewCalculationTrigger(
	calcService CalculationService,
	orderRepo repository.OrderRepository,
	batchStore *ImportBatchStore,
	progressStore *progress.Store,
) *CalculationTrigger {
	return &CalculationTrigger{
		calcService:   calcService,
		orderRepo:     orderRepo,
		batchStore:    batchStore,
		progressStore: progressStore,
	}
}

// Run executes the whole recalculation for a tracking id and blocks until the
// terminal event is emitted. Callers launch it in a goroutine; the task is
// deliberately detached from the request context and cannot be cancelled;
// failure is only observable through the terminal FAILED event.
func (t *CalculationTrigger) Run(
	trackingID string,
	externalIDs []int64,
	rowByExternalID map[int64]importer.Row,
	oosPolicy importer.OutOfScopePolicy,
) {
	ctx := context.Background()

	calculated, outOfScope, err := t.calcService.CalculatePending(ctx, func(b BatchProgress) {
		t.progressStore.Emit(trackingID, progress.Event{
			TrackingID:      trackingID,
			Calculated:      b.TotalCalculated,
			OutOfScope:      b.TotalOutOfScope,
			Pending:         max(0, b.TotalPending-b.TotalProcessed),
			Total:           b.TotalPending,
			BatchCalculated: b.BatchCalculated,
			BatchOutOfScope: b.BatchOutOfScope,
			BatchSize:       b.BatchSize,
			Status:          progress.StatusProcessing,
		})
	})
	if err != nil {
		log.Printf("Background calculation failed for tracking %s: %v", trackingID, err)

		// The terminal FAILED event carries no partial counts; anything a
		// live subscriber already saw stays visible on its side only.
		t.progressStore.Emit(trackingID, progress.Event{
			TrackingID: trackingID,
			Status:     progress.StatusFailed,
		})
		return
	}

	if oosPolicy == importer.OutOfScopeFail && outOfScope > 0 {
		t.reportOutOfScopeRows(ctx, trackingID, externalIDs, rowByExternalID, outOfScope)
	}

	t.progressStore.Emit(trackingID, progress.Event{
		TrackingID: trackingID,
		Calculated: calculated,
		OutOfScope: outOfScope,
		Pending:    0,
		Total:      calculated + outOfScope,
		Status:     progress.StatusCompleted,
	})
}

// reportOutOfScopeRows appends an OUT_OF_SCOPE row error for every imported
// record that ended out of scope. Records that can be traced through their
// external id get the original row attached; the remainder (matched by id
// rather than external id) get generic unattributed entries.
func (t *CalculationTrigger) reportOutOfScopeRows(
	ctx context.Context,
	trackingID string,
	externalIDs []int64,
	rowByExternalID map[int64]importer.Row,
	totalOutOfScope int,
) {
	oosIDs, err := t.orderRepo.FindOutOfScopeExternalIDs(ctx, externalIDs)
	if err != nil {
		log.Printf("Failed to look up out-of-scope external ids for tracking %s: %v", trackingID, err)
		return
	}

	var oosErrors []importer.RowError
	for _, extID := range oosIDs {
		id := extID
		rowErr := importer.RowError{
			ExternalID: &id,
			Reason:     importer.ReasonOutOfScope,
			Field:      "latitude/longitude",
			Message:    outOfScopeMessage,
		}
		if row, ok := rowByExternalID[extID]; ok {
			n := row.RowNumber
			rowErr.RowNumber = &n
			rowErr.RawRow = row.RawLine
		}
		oosErrors = append(oosErrors, rowErr)
	}

	for i := len(oosIDs); i < totalOutOfScope; i++ {
		oosErrors = append(oosErrors, importer.RowError{
			Reason:  importer.ReasonOutOfScope,
			Field:   "latitude/longitude",
			Message: outOfScopeMessage,
		})
	}

	t.batchStore.AppendErrors(trackingID, oosErrors)
}
