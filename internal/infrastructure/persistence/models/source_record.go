package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
)

// SourceRecordModel stores one record of a source collection as a JSON document
type SourceRecordModel struct {
	BaseModel
	Collection string `gorm:"type:varchar(64);not null;index"`
	Payload    string `gorm:"type:text;not null"`
}

// TableName returns the table name for GORM
func (SourceRecordModel) TableName() string {
	return "source_records"
}

// NewSourceRecordModel encodes a record for storage
func NewSourceRecordModel(collection reconciliation.Collection, data reconciliation.Record) (*SourceRecordModel, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", collection, err)
	}
	return &SourceRecordModel{
		Collection: collection.String(),
		Payload:    string(payload),
	}, nil
}

// Record decodes the payload. Numbers stay json.Number so quantities keep
// their exact decimal text.
func (m *SourceRecordModel) Record() (reconciliation.Record, error) {
	dec := json.NewDecoder(strings.NewReader(m.Payload))
	dec.UseNumber()
	rec := reconciliation.Record{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode source record %s: %w", m.ID, err)
	}
	return rec, nil
}

// ToDomain converts the model to a stored record
func (m *SourceRecordModel) ToDomain() (*reconciliation.StoredRecord, error) {
	rec, err := m.Record()
	if err != nil {
		return nil, err
	}
	return &reconciliation.StoredRecord{
		ID:         m.ID,
		Collection: reconciliation.Collection(m.Collection),
		Data:       rec,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}
