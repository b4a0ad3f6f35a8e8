package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/erp/stockrecon/internal/infrastructure/logger"
	"github.com/erp/stockrecon/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormSourceStore keeps source collections in the source_records table and
// notifies subscribers after every write made through it.
type GormSourceStore struct {
	db     *gorm.DB
	subs   *subscribers
	logger *zap.Logger
	now    func() time.Time
}

// SourceStoreOption configures a GormSourceStore
type SourceStoreOption func(*GormSourceStore)

// WithStoreLogger sets the store logger
func WithStoreLogger(logger *zap.Logger) SourceStoreOption {
	return func(s *GormSourceStore) {
		s.logger = logger
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) SourceStoreOption {
	return func(s *GormSourceStore) {
		s.now = now
	}
}

// NewGormSourceStore creates a record store on db
func NewGormSourceStore(db *gorm.DB, opts ...SourceStoreOption) *GormSourceStore {
	s := &GormSourceStore{
		db:     db,
		subs:   newSubscribers(),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormSourceStore) load(ctx context.Context, collection reconciliation.Collection) ([]models.SourceRecordModel, error) {
	if !collection.IsValid() {
		return nil, unknownCollection(collection)
	}
	var rows []models.SourceRecordModel
	err := s.db.WithContext(logger.WithCollection(ctx, collection.String())).
		Where("collection = ?", collection.String()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", collection, err)
	}
	return rows, nil
}

// Fetch returns the records of a collection in insertion order
func (s *GormSourceStore) Fetch(ctx context.Context, collection reconciliation.Collection) ([]reconciliation.Record, error) {
	rows, err := s.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	records := make([]reconciliation.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].Record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns the stored records of a collection with their metadata
func (s *GormSourceStore) List(ctx context.Context, collection reconciliation.Collection) ([]reconciliation.StoredRecord, error) {
	rows, err := s.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]reconciliation.StoredRecord, 0, len(rows))
	for i := range rows {
		stored, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}
	return out, nil
}

// Create stores a new record
func (s *GormSourceStore) Create(ctx context.Context, collection reconciliation.Collection, data reconciliation.Record) (*reconciliation.StoredRecord, error) {
	if !collection.IsValid() {
		return nil, unknownCollection(collection)
	}
	model, err := models.NewSourceRecordModel(collection, data)
	if err != nil {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, err.Error())
	}
	model.BaseModel = models.NewBaseModel(s.now())

	if err := s.db.WithContext(logger.WithCollection(ctx, collection.String())).Create(model).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", collection, err)
	}
	s.changed(ctx, collection)
	return model.ToDomain()
}

// Delete removes a record
func (s *GormSourceStore) Delete(ctx context.Context, collection reconciliation.Collection, id uuid.UUID) error {
	if !collection.IsValid() {
		return unknownCollection(collection)
	}
	result := s.db.WithContext(logger.WithCollection(ctx, collection.String())).
		Where("collection = ? AND id = ?", collection.String(), id).
		Delete(&models.SourceRecordModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete %s record: %w", collection, result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.ErrNotFound.Code,
			fmt.Sprintf("record %s not found in %s", id, collection))
	}
	s.changed(ctx, collection)
	return nil
}

// Subscribe registers a handler for changes of a collection
func (s *GormSourceStore) Subscribe(collection reconciliation.Collection, onChange reconciliation.ChangeHandler) reconciliation.Unsubscribe {
	return s.subs.add(collection, onChange)
}

// changed pushes the new content of a collection to its subscribers
func (s *GormSourceStore) changed(ctx context.Context, collection reconciliation.Collection) {
	if s.subs.count(collection) == 0 {
		return
	}
	records, err := s.Fetch(ctx, collection)
	if err != nil {
		s.logger.Warn("failed to reload collection after write",
			zap.String("collection", collection.String()),
			zap.Error(err))
		return
	}
	s.subs.notify(collection, records)
}

func unknownCollection(c reconciliation.Collection) error {
	return shared.NewDomainError(shared.ErrUnknownCollection.Code,
		fmt.Sprintf("unknown collection %q", string(c)))
}

// IsNotFound reports whether err means a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

var _ reconciliation.RecordStore = (*GormSourceStore)(nil)
