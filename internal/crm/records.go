package crm

import (
	"context"
	"fmt"
	"sync"
)

// FieldType is the declared type of a CRM field. It drives how the
// identifier extractor categorizes the field's value.
type FieldType string

const (
	FieldEmail FieldType = "email"
	FieldPhone FieldType = "phone"
	FieldURL   FieldType = "url"
	FieldText  FieldType = "text"
)

// RecordKind distinguishes person records from company records; domain-based
// secondary linking only applies to companies.
type RecordKind string

const (
	RecordContact RecordKind = "contact"
	RecordCompany RecordKind = "company"
)

// Record is a read-only view of a CRM record: its field values keyed by
// slug plus the per-slug declared field types from the pipeline schema.
type Record struct {
	ID         string
	PipelineID string
	Kind       RecordKind
	Data       map[string]interface{}
	FieldTypes map[string]FieldType
}

// FieldType returns the declared type of a field slug, defaulting to text.
func (r *Record) FieldType(slug string) FieldType {
	if t, ok := r.FieldTypes[slug]; ok {
		return t
	}
	return FieldText
}

// RecordStore gives the sync core read access to CRM records. The real
// implementation lives in the CRM application; this core only consumes it.
type RecordStore interface {
	GetRecord(ctx context.Context, recordID string) (*Record, error)
}

// InMemoryRecordStore is a map-backed RecordStore, used in tests and for
// standalone operation.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{records: make(map[string]*Record)}
}

func (s *InMemoryRecordStore) Put(record *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
}

func (s *InMemoryRecordStore) GetRecord(_ context.Context, recordID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	return record, nil
}
