package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChangeHandler receives the full new content of a collection after a change
type ChangeHandler func(collection Collection, records []Record)

// Unsubscribe stops a subscription
type Unsubscribe func()

// Source is the record collaborator the engine reads from. Implementations
// own storage and change notification; the engine never writes through it.
type Source interface {
	// Fetch returns the current records of a collection
	Fetch(ctx context.Context, collection Collection) ([]Record, error)
	// Subscribe registers a handler called whenever the collection changes
	Subscribe(collection Collection, onChange ChangeHandler) Unsubscribe
}

// StoredRecord is a source record with its storage metadata
type StoredRecord struct {
	ID         uuid.UUID  `json:"id"`
	Collection Collection `json:"collection"`
	Data       Record     `json:"data"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RecordStore is a Source that also accepts writes. Every successful write
// notifies the collection's subscribers with its new content.
type RecordStore interface {
	Source
	Create(ctx context.Context, collection Collection, data Record) (*StoredRecord, error)
	List(ctx context.Context, collection Collection) ([]StoredRecord, error)
	Delete(ctx context.Context, collection Collection, id uuid.UUID) error
}
