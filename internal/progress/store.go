package progress

import (
	"sync"
	"time"
)

// Event statuses. An event is terminal once the run completed or failed.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Event is one progress update for a tracking id. Cumulative counts are
// monotonically non-decreasing until the terminal event.
type Event struct {
	TrackingID      string `json:"trackingId"`
	Calculated      int    `json:"calculated"`
	OutOfScope      int    `json:"outOfScope"`
	Pending         int    `json:"pending"`
	Total           int    `json:"total"`
	BatchCalculated int    `json:"batchCalculated"`
	BatchOutOfScope int    `json:"batchOutOfScope"`
	BatchSize       int    `json:"batchSize"`
	Status          string `json:"status"`
}

// Terminal reports whether no further events will follow this one.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

type subscriber struct {
	ch    chan Event
	timer *time.Timer
}

// Store decouples the background calculation task from progress polling:
// per tracking id it holds at most one live subscriber channel and the cached
// terminal event. All per-key updates are atomic under one mutex; there is no
// cross-key coordination to do.
type Store struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	results     map[string]Event
	idleTimeout time.Duration
}

// NewStore creates a Store whose subscriber channels self-expire after
// idleTimeout to bound resource usage.
func NewStore(idleTimeout time.Duration) *Store {
	return &Store{
		subscribers: make(map[string]*subscriber),
		results:     make(map[string]Event),
		idleTimeout: idleTimeout,
	}
}

// Subscribe opens the event channel for a tracking id. If the run already
// reached a terminal state the cached event is delivered immediately and the
// channel closed; otherwise the channel stays live until the terminal event,
// the idle timeout, or Unsubscribe.
func (s *Store) Subscribe(trackingID string) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 16)

	if cached, ok := s.results[trackingID]; ok {
		ch <- cached
		close(ch)
		return ch
	}

	if prev, ok := s.subscribers[trackingID]; ok {
		prev.timer.Stop()
		close(prev.ch)
	}

	sub := &subscriber{ch: ch}
	sub.timer = time.AfterFunc(s.idleTimeout, func() {
		s.expire(trackingID, sub)
	})
	s.subscribers[trackingID] = sub

	return ch
}

// Emit delivers an event to the live subscriber, if any. Terminal events are
// cached for late subscribers and close the channel. Emitting to a tracking
// id with no subscriber and no live run is a no-op beyond result caching.
func (s *Store) Emit(trackingID string, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Terminal() {
		s.results[trackingID] = event
	}

	sub, ok := s.subscribers[trackingID]
	if !ok {
		return
	}

	select {
	case sub.ch <- event:
	default:
		// Slow consumer: drop it rather than block the calculation task.
		s.remove(trackingID, sub)
		return
	}

	if event.Terminal() {
		s.remove(trackingID, sub)
	}
}

// Result returns the cached terminal event, or false while the run is still
// in progress or unknown.
func (s *Store) Result(trackingID string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.results[trackingID]
	return event, ok
}

// Has reports whether the tracking id has a live subscriber or a cached result.
func (s *Store) Has(trackingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, live := s.subscribers[trackingID]
	_, done := s.results[trackingID]
	return live || done
}

// Unsubscribe drops the live channel for a tracking id, e.g. after a
// transport error on the consuming connection.
func (s *Store) Unsubscribe(trackingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[trackingID]; ok {
		s.remove(trackingID, sub)
	}
}

// expire is the timer callback; it only removes the subscriber it was armed
// for, so a newer subscription under the same id survives.
func (s *Store) expire(trackingID string, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.subscribers[trackingID]; ok && current == sub {
		s.remove(trackingID, sub)
	}
}

// remove must be called with the lock held.
func (s *Store) remove(trackingID string, sub *subscriber) {
	sub.timer.Stop()
	close(sub.ch)
	delete(s.subscribers, trackingID)
}
