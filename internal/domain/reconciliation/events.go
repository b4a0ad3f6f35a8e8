package reconciliation

import (
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeReconciliationRecomputed = "ReconciliationRecomputed"
	EventTypeCollectionChanged        = "CollectionChanged"
)

// Invalidation reasons carried by ReconciliationRecomputed events
const (
	ReasonCollectionChanged = "collection_changed"
	ReasonManual            = "manual"
	ReasonRemote            = "remote"
	ReasonScheduled         = "scheduled"
)

// AggregateTypeReconciliation is the aggregate type carried by reconciliation events
const AggregateTypeReconciliation = "Reconciliation"

// ReconciliationRecomputedEvent is published whenever cached reconciliation
// figures are discarded and must be read again.
type ReconciliationRecomputedEvent struct {
	shared.BaseDomainEvent
	Generation  uint64   `json:"generation"`
	Collections []string `json:"collections,omitempty"`
	Reason      string   `json:"reason"`
}

// NewReconciliationRecomputedEvent creates a ReconciliationRecomputedEvent.
// engineID identifies the engine instance that discarded its cache.
func NewReconciliationRecomputedEvent(engineID uuid.UUID, generation uint64, reason string, collections ...Collection) *ReconciliationRecomputedEvent {
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		names = append(names, c.String())
	}
	return &ReconciliationRecomputedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeReconciliationRecomputed, AggregateTypeReconciliation, engineID),
		Generation:      generation,
		Collections:     names,
		Reason:          reason,
	}
}

// CollectionChangedEvent is published when a source collection reports new content
type CollectionChangedEvent struct {
	shared.BaseDomainEvent
	Collection  string `json:"collection"`
	RecordCount int    `json:"record_count"`
}

// NewCollectionChangedEvent creates a CollectionChangedEvent
func NewCollectionChangedEvent(engineID uuid.UUID, collection Collection, recordCount int) *CollectionChangedEvent {
	return &CollectionChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCollectionChanged, AggregateTypeReconciliation, engineID),
		Collection:      collection.String(),
		RecordCount:     recordCount,
	}
}
