// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain types, which carry no ORM tags.
//
// - base.go: BaseModel with ID and timestamps
// - source_record.go: source collection records stored as JSON documents
package models
