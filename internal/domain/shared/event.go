package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact published by an engine instance. AggregateID names
// the instance that produced it so peers can drop their own echoes.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
}

// BaseDomainEvent carries the envelope fields shared by every event.
// Concrete events embed it and add their payload next to it.
type BaseDomainEvent struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	At         time.Time `json:"occurred_at"`
	Origin     uuid.UUID `json:"origin_id"`
	OriginKind string    `json:"origin_kind"`
}

func (e *BaseDomainEvent) EventID() uuid.UUID { return e.ID }
func (e *BaseDomainEvent) EventType() string { return e.Kind }
func (e *BaseDomainEvent) OccurredAt() time.Time { return e.At }
func (e *BaseDomainEvent) AggregateID() uuid.UUID { return e.Origin }
func (e *BaseDomainEvent) AggregateType() string { return e.OriginKind }

// NewBaseDomainEvent stamps a new event of eventType produced by origin
func NewBaseDomainEvent(eventType, originKind string, origin uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:         uuid.New(),
		Kind:       eventType,
		At:         time.Now().UTC(),
		Origin:     origin,
		OriginKind: originKind,
	}
}
