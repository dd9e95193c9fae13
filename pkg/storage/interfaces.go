package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collection names used by the service.
const (
	CollectionEmployees   = "employees"
	CollectionPermissions = "employee_permissions"
	CollectionAuditLogs   = "audit_logs"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrCollectionNotFound is returned when the backing collection has not been created yet
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrInvalidDocument is returned when a document body is not a JSON object
	ErrInvalidDocument = errors.New("invalid document")
)

// Document is a stored JSON document
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the document body into v
func (d *Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode document %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Filter is an equality match on a top-level document field
type Filter struct {
	Field string
	Value interface{}
}

// Eq builds an equality filter
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// DocumentReader reads documents
type DocumentReader interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error)
	List(ctx context.Context, collection string) ([]*Document, error)
}

// DocumentWriter writes documents
type DocumentWriter interface {
	// Set replaces the whole document
	Set(ctx context.Context, collection, id string, data json.RawMessage) error
	// Merge overlays the top-level fields of data onto the stored document,
	// creating it when absent
	Merge(ctx context.Context, collection, id string, data json.RawMessage) error
}

// DocumentStore is the full document store contract
type DocumentStore interface {
	DocumentReader
	DocumentWriter
}

// Matches reports whether the document body satisfies every filter.
// Values are compared by their JSON encoding so that numbers and strings
// behave the same regardless of the backend.
func Matches(data json.RawMessage, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, fmt.Errorf("failed to decode document fields: %w", err)
	}

	for _, f := range filters {
		got, ok := fields[f.Field]
		if !ok {
			return false, nil
		}
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false, fmt.Errorf("failed to encode filter value for %s: %w", f.Field, err)
		}
		if !bytes.Equal(compact(got), compact(want)) {
			return false, nil
		}
	}
	return true, nil
}

// MergeFields overlays patch onto base at the top level
func MergeFields(base, patch json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode stored document: %w", err)
		}
	}

	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("failed to decode merge patch: %w", err)
	}
	for k, v := range overlay {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged document: %w", err)
	}
	return merged, nil
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
