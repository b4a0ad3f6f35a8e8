package persistence

import (
	"sync"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
)

// subscribers fans collection changes out to registered handlers.
// Handlers are always called without any lock held.
type subscribers struct {
	mu       sync.Mutex
	next     int
	handlers map[reconciliation.Collection]map[int]reconciliation.ChangeHandler
}

func newSubscribers() *subscribers {
	return &subscribers{handlers: make(map[reconciliation.Collection]map[int]reconciliation.ChangeHandler)}
}

func (s *subscribers) add(c reconciliation.Collection, h reconciliation.ChangeHandler) reconciliation.Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	if s.handlers[c] == nil {
		s.handlers[c] = make(map[int]reconciliation.ChangeHandler)
	}
	s.handlers[c][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers[c], id)
		})
	}
}

func (s *subscribers) count(c reconciliation.Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[c])
}

func (s *subscribers) notify(c reconciliation.Collection, records []reconciliation.Record) {
	s.mu.Lock()
	handlers := make([]reconciliation.ChangeHandler, 0, len(s.handlers[c]))
	for _, h := range s.handlers[c] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(c, records)
	}
}
