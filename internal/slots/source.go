package slots

import (
	"context"
	"sync"
)

// Query scopes a slot lookup to one resource and date. ServiceID is optional
// and lets the scheduling service filter rooms by equipment compatibility.
type Query struct {
	ResourceID string
	Date       string // YYYY-MM-DD
	ServiceID  string
}

// Source supplies atomic slots for one resource/date, ordered by start time.
type Source interface {
	Slots(ctx context.Context, q Query) ([]AtomicSlot, error)
}

// StaticSource serves fixed slots keyed by resource and date. It backs
// local development and tests.
type StaticSource struct {
	mu    sync.RWMutex
	slots map[string][]AtomicSlot
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{slots: make(map[string][]AtomicSlot)}
}

func staticKey(resourceID, date string) string {
	return resourceID + "|" + date
}

// Put replaces the slots for a resource/date.
func (s *StaticSource) Put(resourceID, date string, slots []AtomicSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[staticKey(resourceID, date)] = append([]AtomicSlot(nil), slots...)
}

// Slots implements Source. Callers receive a copy.
func (s *StaticSource) Slots(_ context.Context, q Query) ([]AtomicSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AtomicSlot(nil), s.slots[staticKey(q.ResourceID, q.Date)]...), nil
}
