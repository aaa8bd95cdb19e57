package service

import (
	"sync"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
)

// ImportBatchStore keeps the row errors of recent import batches in memory,
// keyed by tracking id. Capacity is bounded: once full, the oldest batch is
// evicted. It only bounds memory; it is not a durability guarantee.
type ImportBatchStore struct {
	mu       sync.Mutex
	batches  map[string][]importer.RowError
	order    []string // insertion order, oldest first
	capacity int
}

func NewImportBatchStore(capacity int) *ImportBatchStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &ImportBatchStore{
		batches:  make(map[string][]importer.RowError),
		capacity: capacity,
	}
}

// Save registers a batch, evicting the oldest one when over capacity.
func (s *ImportBatchStore) Save(trackingID string, errors []importer.RowError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[trackingID]; !exists {
		s.order = append(s.order, trackingID)
	}
	s.batches[trackingID] = append([]importer.RowError(nil), errors...)

	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.batches, oldest)
	}
}

// AppendErrors adds errors to an existing batch; unknown (possibly evicted)
// tracking ids are ignored.
func (s *ImportBatchStore) AppendErrors(trackingID string, errors []importer.RowError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.batches[trackingID]
	if !ok {
		return
	}
	s.batches[trackingID] = append(existing, errors...)
}

func (s *ImportBatchStore) Get(trackingID string) ([]importer.RowError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errors, ok := s.batches[trackingID]
	if !ok {
		return nil, false
	}
	return append([]importer.RowError(nil), errors...), true
}

func (s *ImportBatchStore) Has(trackingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[trackingID]
	return ok
}
