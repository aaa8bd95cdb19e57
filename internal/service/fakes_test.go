package service

import (
	"context"
	"sort"
	"sync"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/model"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"

	"github.com/google/uuid"
)

// --- repository.CalculationRepository fake ---

// fakeCalcRepo simulates the set-based calculation statements against an
// in-memory status map. Orders listed in inScope resolve to CALCULATED;
// everything else stays ADDED until an out-of-scope sweep.
type fakeCalcRepo struct {
	status  map[int64]string
	inScope map[int64]bool

	countErr error
	pageErr  error
	calcErr  error

	sweepCalls int
}

func newFakeCalcRepo(ids []int64, inScope ...int64) *fakeCalcRepo {
	repo := &fakeCalcRepo{
		status:  make(map[int64]string),
		inScope: make(map[int64]bool),
	}
	for _, id := range ids {
		repo.status[id] = model.OrderStatusAdded
	}
	for _, id := range inScope {
		repo.inScope[id] = true
	}
	return repo
}

func (f *fakeCalcRepo) CountPending(ctx context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	var count int64
	for _, st := range f.status {
		if st == model.OrderStatusAdded {
			count++
		}
	}
	return count, nil
}

func (f *fakeCalcRepo) PendingIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	var ids []int64
	for id, st := range f.status {
		if st == model.OrderStatusAdded && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeCalcRepo) CalculateByIDs(ctx context.Context, ids []int64) (int, error) {
	if f.calcErr != nil {
		return 0, f.calcErr
	}
	calculated := 0
	for _, id := range ids {
		if f.status[id] == model.OrderStatusAdded && f.inScope[id] {
			f.status[id] = model.OrderStatusCalculated
			calculated++
		}
	}
	return calculated, nil
}

func (f *fakeCalcRepo) CalculateOne(ctx context.Context, orderID int64) (bool, error) {
	if f.calcErr != nil {
		return false, f.calcErr
	}
	if f.status[orderID] == model.OrderStatusAdded && f.inScope[orderID] {
		f.status[orderID] = model.OrderStatusCalculated
		return true, nil
	}
	return false, nil
}

func (f *fakeCalcRepo) MarkPendingOutOfScope(ctx context.Context) (int, error) {
	f.sweepCalls++
	marked := 0
	for id, st := range f.status {
		if st == model.OrderStatusAdded {
			f.status[id] = model.OrderStatusOutOfScope
			marked++
		}
	}
	return marked, nil
}

func (f *fakeCalcRepo) MarkOneOutOfScope(ctx context.Context, orderID int64) error {
	if f.status[orderID] == model.OrderStatusAdded {
		f.status[orderID] = model.OrderStatusOutOfScope
	}
	return nil
}

// --- repository.OrderRepository fake ---

type fakeOrderRepo struct {
	mu sync.Mutex

	nextID int64
	orders map[int64]*model.Order

	inserted    []importer.Row
	overwritten []importer.Row

	existing       map[int64]bool
	oosExternalIDs []int64

	insertErr   error
	existingErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders:   make(map[int64]*model.Order),
		existing: make(map[int64]bool),
	}
}

func (f *fakeOrderRepo) Create(ctx context.Context, order *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	copied := *order
	f.orders[order.ID] = &copied
	return nil
}

func (f *fakeOrderRepo) FindByID(ctx context.Context, id int64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := *f.orders[id]
	return &order, nil
}

func (f *fakeOrderRepo) List(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]model.Order, int64, error) {
	return nil, 0, nil
}

func (f *fakeOrderRepo) BatchInsertRows(ctx context.Context, rows []importer.Row, createdBy *uuid.UUID) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, rows...)
	return len(rows), nil
}

func (f *fakeOrderRepo) BatchOverwriteRows(ctx context.Context, rows []importer.Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwritten = append(f.overwritten, rows...)
	return len(rows), nil
}

func (f *fakeOrderRepo) ExistingExternalIDs(ctx context.Context, externalIDs []int64) (map[int64]bool, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	found := make(map[int64]bool)
	for _, id := range externalIDs {
		if f.existing[id] {
			found[id] = true
		}
	}
	return found, nil
}

func (f *fakeOrderRepo) FindOutOfScopeExternalIDs(ctx context.Context, externalIDs []int64) ([]int64, error) {
	return f.oosExternalIDs, nil
}

// --- repository.TransactionManager fake ---

// fakeTxManager runs the function directly; transactional behavior itself is
// covered by the real gorm-backed implementation.
type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// --- repository.AuditRepository fake ---

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (f *fakeAuditRepo) Create(ctx context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// --- CalculationService fake ---

type fakeCalcService struct {
	pendingFn func(ctx context.Context, onBatch func(BatchProgress)) (int, int, error)

	mu             sync.Mutex
	calculatedIDs  []int64
	calculateErr   error
	pendingInvoked bool
}

func (f *fakeCalcService) CalculatePending(ctx context.Context, onBatch func(BatchProgress)) (int, int, error) {
	f.mu.Lock()
	f.pendingInvoked = true
	f.mu.Unlock()
	if f.pendingFn != nil {
		return f.pendingFn(ctx, onBatch)
	}
	return 0, 0, nil
}

func (f *fakeCalcService) CalculateOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calculatedIDs = append(f.calculatedIDs, orderID)
	return f.calculateErr
}

// --- CalculationRunner fake ---

type runnerCall struct {
	trackingID      string
	externalIDs     []int64
	rowByExternalID map[int64]importer.Row
	oosPolicy       importer.OutOfScopePolicy
}

// fakeRunner records Run invocations; done signals each one since the caller
// launches Run in a goroutine.
type fakeRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	done  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{done: make(chan struct{}, 8)}
}

func (f *fakeRunner) Run(trackingID string, externalIDs []int64,
	rowByExternalID map[int64]importer.Row, oosPolicy importer.OutOfScopePolicy) {
	f.mu.Lock()
	f.calls = append(f.calls, runnerCall{trackingID, externalIDs, rowByExternalID, oosPolicy})
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
