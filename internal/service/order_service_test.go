package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "id,latitude,longitude,timestamp,subtotal\n"

func newOrderServiceForTest(orderRepo *fakeOrderRepo, calc *fakeCalcService, runner *fakeRunner,
	batchStore *ImportBatchStore) (OrderService, *fakeAuditRepo) {

	auditRepo := &fakeAuditRepo{}
	svc := NewOrderService(orderRepo, auditRepo, fakeTxManager{}, importer.NewParser(), calc, runner, batchStore)
	return svc, auditRepo
}

func waitForRunner(t *testing.T, runner *fakeRunner) runnerCall {
	t.Helper()
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background calculation was never triggered")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	return runner.calls[len(runner.calls)-1]
}

// --- ImportFromCSV ---

func TestImportFromCSVHappyPath(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	batchStore := NewImportBatchStore(10)
	svc, auditRepo := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, batchStore)

	payload := csvHeader +
		"1,40.7128,-74.0060,1700000000000,99.95\n" +
		"2,42.6526,-73.7562,1700000000000,15.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "skip", "mark")

	assert.Equal(t, ImportStatusCompleted, result.Status)
	assert.NotEmpty(t, result.TrackingID)
	assert.Equal(t, ImportSummary{
		TotalRows: 2, ParsedRows: 2, ImportedRows: 2, FailedRows: 0, SkippedDuplicateRows: 0,
	}, result.Summary)
	assert.Empty(t, result.ErrorsPreview)

	require.Len(t, orderRepo.inserted, 2)
	assert.Empty(t, orderRepo.overwritten)

	// Row errors (none here) are queryable under the tracking id.
	errors, ok := batchStore.Get(result.TrackingID)
	assert.True(t, ok)
	assert.Empty(t, errors)

	call := waitForRunner(t, runner)
	assert.Equal(t, result.TrackingID, call.trackingID)
	assert.Equal(t, []int64{1, 2}, call.externalIDs)
	assert.Equal(t, importer.OutOfScopeMark, call.oosPolicy)

	assert.Contains(t, auditRepo.actions(), model.ActionImportOrders)
}

func TestImportFromCSVSkipsDuplicates(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	orderRepo.existing[1] = true
	runner := newFakeRunner()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, NewImportBatchStore(10))

	payload := csvHeader +
		"1,40.7,-74.0,1700000000000,10.00\n" +
		"2,40.7,-74.0,1700000000000,20.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "skip", "mark")

	// A skipped duplicate is not an error.
	assert.Equal(t, ImportStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Summary.ImportedRows)
	assert.Equal(t, 1, result.Summary.SkippedDuplicateRows)
	assert.Equal(t, 0, result.Summary.FailedRows)
	require.Len(t, orderRepo.inserted, 1)

	waitForRunner(t, runner)
}

func TestImportFromCSVOverwritesDuplicates(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	orderRepo.existing[1] = true
	runner := newFakeRunner()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, NewImportBatchStore(10))

	payload := csvHeader + "1,40.7,-74.0,1700000000000,10.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "overwrite", "mark")

	assert.Equal(t, ImportStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Summary.ImportedRows)
	assert.Empty(t, orderRepo.inserted)
	require.Len(t, orderRepo.overwritten, 1)

	waitForRunner(t, runner)
}

func TestImportFromCSVFailsDuplicates(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	orderRepo.existing[1] = true
	runner := newFakeRunner()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, NewImportBatchStore(10))

	payload := csvHeader +
		"1,40.7,-74.0,1700000000000,10.00\n" +
		"2,40.7,-74.0,1700000000000,20.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "fail", "mark")

	assert.Equal(t, ImportStatusCompletedWithErrors, result.Status)
	assert.Equal(t, 1, result.Summary.ImportedRows)
	assert.Equal(t, 1, result.Summary.FailedRows)
	// Duplicate errors are reconciliation errors, not parse errors.
	assert.Equal(t, 2, result.Summary.ParsedRows)

	require.Len(t, result.ErrorsPreview, 1)
	assert.Equal(t, importer.ReasonDuplicateExternalID, result.ErrorsPreview[0].Reason)

	waitForRunner(t, runner)
}

func TestImportFromCSVCountsUnparsedRows(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	batchStore := NewImportBatchStore(10)
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, batchStore)

	payload := csvHeader +
		"1,40.7,-74.0,not-a-date,10.00\n" + // INVALID_TIMESTAMP: unparsed
		"2,91,-74.0,1700000000000,10.00\n" + // INVALID_COORDINATES: parsed but invalid
		"3,40.7,-74.0,1700000000000,10.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "skip", "mark")

	assert.Equal(t, ImportStatusCompletedWithErrors, result.Status)
	assert.Equal(t, 3, result.Summary.TotalRows)
	assert.Equal(t, 2, result.Summary.ParsedRows)
	assert.Equal(t, 1, result.Summary.ImportedRows)
	assert.Equal(t, 2, result.Summary.FailedRows)

	errors, _ := batchStore.Get(result.TrackingID)
	assert.Len(t, errors, 2)

	waitForRunner(t, runner)
}

func TestImportFromCSVNothingImportedSkipsCalculation(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, NewImportBatchStore(10))

	payload := csvHeader + "1,91,-74.0,1700000000000,10.00\n"
	result := svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "skip", "mark")

	assert.Equal(t, ImportStatusCompletedWithErrors, result.Status)
	assert.Equal(t, 0, result.Summary.ImportedRows)

	select {
	case <-runner.done:
		t.Fatal("calculation must not start when nothing was imported")
	case <-time.After(50 * time.Millisecond):
	}
}

// A structurally broken file fails the import and leaves nothing behind under
// the tracking id.
func TestImportFromCSVEmptyFile(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	batchStore := NewImportBatchStore(10)
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, batchStore)

	result := svc.ImportFromCSV(context.Background(), strings.NewReader(""), nil, "skip", "mark")

	assert.Equal(t, ImportStatusFailed, result.Status)
	assert.NotEmpty(t, result.TrackingID)
	assert.False(t, batchStore.Has(result.TrackingID))
	assert.Empty(t, orderRepo.inserted)
	assert.Equal(t, 0, runner.callCount())
}

func TestImportFromCSVHeaderOnly(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	batchStore := NewImportBatchStore(10)
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, batchStore)

	result := svc.ImportFromCSV(context.Background(), strings.NewReader(csvHeader), nil, "skip", "mark")

	assert.Equal(t, ImportStatusFailed, result.Status)
	assert.Contains(t, result.Message, "no data rows")
	assert.False(t, batchStore.Has(result.TrackingID))
	assert.Equal(t, 0, runner.callCount())
}

// Two rows claiming the same external id: the first one wins the mapping used
// for out-of-scope attribution.
func TestImportFromCSVFirstRowWinsExternalIDMapping(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	runner := newFakeRunner()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, runner, NewImportBatchStore(10))

	payload := csvHeader +
		"1,40.7,-74.0,1700000000000,10.00\n" +
		"1,42.6,-73.7,1700000000000,20.00\n"
	svc.ImportFromCSV(context.Background(), strings.NewReader(payload), nil, "skip", "mark")

	call := waitForRunner(t, runner)
	assert.Equal(t, []int64{1}, call.externalIDs)
	assert.Equal(t, 2, call.rowByExternalID[1].RowNumber)
}

// --- CreateOrder ---

func TestCreateOrderCalculatesSynchronously(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	calc := &fakeCalcService{}
	svc, auditRepo := newOrderServiceForTest(orderRepo, calc, newFakeRunner(), NewImportBatchStore(10))

	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		Latitude:  "40.7128",
		Longitude: "-74.0060",
		Timestamp: "1700000000000",
		Subtotal:  "99.95",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, int64(1), order.ID)
	assert.False(t, order.CSVImported)
	assert.Equal(t, []int64{1}, calc.calculatedIDs)
	assert.Contains(t, auditRepo.actions(), model.ActionCreateOrder)
}

func TestCreateOrderBlankTimestampMeansNow(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, newFakeRunner(), NewImportBatchStore(10))

	before := time.Now().UnixMilli()
	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		Latitude:  "40.7128",
		Longitude: "-74.0060",
		Subtotal:  "10.00",
	}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, order.Timestamp, before)
}

func TestCreateOrderValidation(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	svc, _ := newOrderServiceForTest(orderRepo, &fakeCalcService{}, newFakeRunner(), NewImportBatchStore(10))

	cases := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"bad latitude", CreateOrderRequest{Latitude: "abc", Longitude: "-74.0", Subtotal: "10"}},
		{"latitude out of range", CreateOrderRequest{Latitude: "91", Longitude: "-74.0", Subtotal: "10"}},
		{"longitude out of range", CreateOrderRequest{Latitude: "40.7", Longitude: "181", Subtotal: "10"}},
		{"zero subtotal", CreateOrderRequest{Latitude: "40.7", Longitude: "-74.0", Subtotal: "0"}},
		{"negative subtotal", CreateOrderRequest{Latitude: "40.7", Longitude: "-74.0", Subtotal: "-1"}},
		{"bad timestamp", CreateOrderRequest{Latitude: "40.7", Longitude: "-74.0", Subtotal: "10", Timestamp: "later"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), tc.req, nil)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, orderRepo.orders, "nothing may be persisted on validation failure")
}

// --- CalculateAll ---

func TestCalculateAllDelegates(t *testing.T) {
	calc := &fakeCalcService{
		pendingFn: func(ctx context.Context, onBatch func(BatchProgress)) (int, int, error) {
			assert.Nil(t, onBatch, "manual bulk runs emit no progress")
			return 4, 2, nil
		},
	}
	svc, auditRepo := newOrderServiceForTest(newFakeOrderRepo(), calc, newFakeRunner(), NewImportBatchStore(10))

	calculated, outOfScope, err := svc.CalculateAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, calculated)
	assert.Equal(t, 2, outOfScope)
	assert.Contains(t, auditRepo.actions(), model.ActionBulkCalculation)
}
