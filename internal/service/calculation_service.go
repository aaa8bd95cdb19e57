package service

import (
	"context"
	"fmt"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"
)

// BatchProgress is reported after each batch of the bulk recalculation.
// Totals are cumulative across the run; TotalPending is the pending count
// measured when the run started.
type BatchProgress struct {
	BatchCalculated int
	BatchOutOfScope int
	BatchSize       int
	TotalCalculated int
	TotalOutOfScope int
	TotalProcessed  int
	TotalPending    int
}

// CalculationService recomputes tax fields for pending orders. The bulk path
// walks ADDED orders in id order, one set-based statement per batch; records
// the spatial join never matches stay ADDED until the final sweep marks them
// OUT_OF_SCOPE in bulk.
type CalculationService interface {
	CalculatePending(ctx context.Context, onBatch func(BatchProgress)) (calculated, outOfScope int, err error)
	CalculateOrder(ctx context.Context, orderID int64) error
}

type calculationService struct {
	repo      repository.CalculationRepository
	batchSize int
}

func NewCalculationService(repo repository.CalculationRepository, batchSize int) CalculationService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &calculationService{repo: repo, batchSize: batchSize}
}

func (s *calculationService) CalculatePending(ctx context.Context, onBatch func(BatchProgress)) (int, int, error) {
	totalPending, err := s.repo.CountPending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pending orders: %w", err)
	}

	var (
		afterID         int64
		totalCalculated int
		totalOutOfScope int
		totalProcessed  int
	)

	for {
		ids, err := s.repo.PendingIDsAfter(ctx, afterID, s.batchSize)
		if err != nil {
			return totalCalculated, totalOutOfScope, fmt.Errorf("failed to page pending orders: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		calculated, err := s.repo.CalculateByIDs(ctx, ids)
		if err != nil {
			return totalCalculated, totalOutOfScope, fmt.Errorf("failed to calculate batch: %w", err)
		}

		batchOutOfScope := len(ids) - calculated
		totalCalculated += calculated
		totalOutOfScope += batchOutOfScope
		totalProcessed += len(ids)
		afterID = ids[len(ids)-1]

		if onBatch != nil {
			onBatch(BatchProgress{
				BatchCalculated: calculated,
				BatchOutOfScope: batchOutOfScope,
				BatchSize:       len(ids),
				TotalCalculated: totalCalculated,
				TotalOutOfScope: totalOutOfScope,
				TotalProcessed:  totalProcessed,
				TotalPending:    int(totalPending),
			})
		}
	}

	// Everything the join never matched is outside every jurisdiction.
	if _, err := s.repo.MarkPendingOutOfScope(ctx); err != nil {
		return totalCalculated, totalOutOfScope, fmt.Errorf("failed to mark out-of-scope orders: %w", err)
	}

	return totalCalculated, totalOutOfScope, nil
}

// CalculateOrder is the single-record variant used by manual creation: same
// resolve-or-mark step, no batching, no progress.
func (s *calculationService) CalculateOrder(ctx context.Context, orderID int64) error {
	matched, err := s.repo.CalculateOne(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to calculate order %d: %w", orderID, err)
	}
	if !matched {
		if err := s.repo.MarkOneOutOfScope(ctx, orderID); err != nil {
			return fmt.Errorf("failed to mark order %d out of scope: %w", orderID, err)
		}
	}
	return nil
}
