// Package store persists company records in an ordered document store. Every
// backend offers the same four operations: ordered scan by ID, point lookup,
// single-field equality query, and atomic bounded-size batch writes.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/resolve"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: record not found")

// OpKind is the kind of a write operation.
type OpKind int

// Write operation kinds.
const (
	// OpSet creates or replaces a whole record.
	OpSet OpKind = iota + 1
	// OpUpdate merges fields into an existing record; nil values clear fields.
	OpUpdate
	// OpDelete removes a record. Deleting a missing record is a no-op.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one write in a batch.
type Op struct {
	Kind   OpKind
	ID     string
	Fields map[string]any
}

// Set returns an op that creates or replaces a record. Lookup keys are
// derived from the fields.
func Set(id string, fields map[string]any) Op {
	return Op{Kind: OpSet, ID: id, Fields: resolve.WithLookupKeys(fields)}
}

// Update returns an op that merges fields into an existing record. Lookup
// keys follow any change to the name or corporate number.
func Update(id string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, ID: id, Fields: resolve.WithLookupKeys(fields)}
}

// Delete returns an op that removes a record.
func Delete(id string) Op {
	return Op{Kind: OpDelete, ID: id}
}

// Store is the document store contract the jobs depend on.
type Store interface {
	// Scan returns up to limit records with ID greater than afterID, in
	// ascending ID order. An empty afterID starts at the beginning.
	Scan(ctx context.Context, afterID string, limit int) ([]company.Record, error)
	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (*company.Record, error)
	// FindByField returns records whose field equals value, ordered by ID.
	FindByField(ctx context.Context, field string, value any) ([]company.Record, error)
	// Commit applies ops atomically: all or nothing.
	Commit(ctx context.Context, ops []Op) error
	// MaxBatchOps is the largest batch Commit accepts.
	MaxBatchOps() int
	Close() error
}

// IDs returns the record IDs touched by ops, in op order.
func IDs(ops []Op) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}

// validateOps checks a batch at the write boundary.
func validateOps(schema *company.Schema, ops []Op, maxOps int) error {
	if len(ops) > maxOps {
		return eris.Errorf("store: batch of %d ops exceeds limit %d", len(ops), maxOps)
	}
	for _, op := range ops {
		if strings.TrimSpace(op.ID) == "" {
			return eris.Errorf("store: %s op without id", op.Kind)
		}
		if strings.Contains(op.ID, "/") {
			return eris.Errorf("store: invalid id %q", op.ID)
		}
		switch op.Kind {
		case OpSet, OpUpdate:
			if err := schema.Validate(op.Fields); err != nil {
				return eris.Wrapf(err, "store: %s %s", op.Kind, op.ID)
			}
		case OpDelete:
		default:
			return eris.Errorf("store: unknown op kind %d", op.Kind)
		}
	}
	return nil
}

// setFields drops nil values: a Set never stores explicit nulls.
func setFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// decodeFields parses a JSON document, keeping integers as int64.
func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "store: decode record")
	}
	for k, v := range raw {
		raw[k] = fromJSONValue(v)
	}
	return raw, nil
}

func fromJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSONValue(t[i])
		}
		return t
	default:
		return v
	}
}
