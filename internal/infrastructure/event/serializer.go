package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/google/uuid"
)

// Envelope is the wire form of a domain event sent between engine instances
type Envelope struct {
	Origin     uuid.UUID       `json:"origin"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventSerializer handles JSON serialization/deserialization of domain events
type EventSerializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type // eventType -> Go type
}

// NewEventSerializer creates a new event serializer
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		registry: make(map[string]reflect.Type),
	}
}

// NewReconciliationSerializer returns a serializer that knows every
// reconciliation event type
func NewReconciliationSerializer() *EventSerializer {
	s := NewEventSerializer()
	s.Register(reconciliation.EventTypeReconciliationRecomputed, &reconciliation.ReconciliationRecomputedEvent{})
	s.Register(reconciliation.EventTypeCollectionChanged, &reconciliation.CollectionChangedEvent{})
	return s
}

// Register registers an event type for deserialization
// The eventType should match what EventType() returns on the event
func (s *EventSerializer) Register(eventType string, eventInstance shared.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(eventInstance)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// Serialize serializes a domain event to JSON bytes
func (s *EventSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Deserialize deserializes JSON bytes to a domain event
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	t, ok := s.registry[eventType]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	eventPtr := reflect.New(t).Interface()
	if err := json.Unmarshal(data, eventPtr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	event, ok := eventPtr.(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("deserialized object does not implement DomainEvent")
	}
	return event, nil
}

// Seal wraps an event in an Envelope marked with its origin and encodes it
func (s *EventSerializer) Seal(origin uuid.UUID, event shared.DomainEvent) ([]byte, error) {
	payload, err := s.Serialize(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	return json.Marshal(Envelope{
		Origin:     origin,
		EventType:  event.EventType(),
		OccurredAt: event.OccurredAt(),
		Payload:    payload,
	})
}

// Open decodes an Envelope and the event it carries
func (s *EventSerializer) Open(data []byte) (Envelope, shared.DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	event, err := s.Deserialize(env.EventType, env.Payload)
	if err != nil {
		return env, nil, err
	}
	return env, event, nil
}

// IsRegistered checks if an event type is registered
func (s *EventSerializer) IsRegistered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry[eventType]
	return ok
}

// RegisteredTypes returns all registered event types, sorted
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
