package store

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/resolve"
)

// Memory is an in-process Store used by tests and dry runs against fixtures.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	schema  *company.Schema
	maxOps  int
	commits int

	// FailCommit, when set, is consulted before each commit; a non-nil
	// return fails the whole batch.
	FailCommit func(ops []Op) error
}

// NewMemory creates a store holding copies of records, as if each had been
// written with Set.
func NewMemory(schema *company.Schema, records ...company.Record) *Memory {
	if schema == nil {
		schema = company.DefaultSchema()
	}
	m := &Memory{
		docs:   make(map[string]map[string]any, len(records)),
		schema: schema,
		maxOps: 500,
	}
	for _, r := range records {
		m.docs[r.ID] = setFields(resolve.WithLookupKeys(r.Clone().Fields))
	}
	return m
}

// SetMaxBatchOps overrides the batch limit.
func (m *Memory) SetMaxBatchOps(n int) { m.maxOps = n }

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Commits returns how many batches were committed.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Records returns copies of all records in ID order.
func (m *Memory) Records() []company.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]company.Record, 0, len(m.docs))
	for _, id := range m.sortedIDs() {
		out = append(out, m.record(id))
	}
	return out
}

func (m *Memory) sortedIDs() []string {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// record reads a document through the schema like the other backends do.
func (m *Memory) record(id string) company.Record {
	r := m.schema.Record(id, m.docs[id])
	return r.Clone()
}

func (m *Memory) Scan(ctx context.Context, afterID string, limit int) ([]company.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []company.Record
	for _, id := range m.sortedIDs() {
		if id <= afterID {
			continue
		}
		out = append(out, m.record(id))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*company.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get %s", id)
	}
	r := m.record(id)
	return &r, nil
}

func (m *Memory) FindByField(ctx context.Context, field string, value any) ([]company.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []company.Record
	for _, id := range m.sortedIDs() {
		if v, ok := m.docs[id][field]; ok && reflect.DeepEqual(v, value) {
			out = append(out, m.record(id))
		}
	}
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateOps(m.schema, ops, m.maxOps); err != nil {
		return err
	}
	if m.FailCommit != nil {
		if err := m.FailCommit(ops); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check updates first so a failing batch leaves nothing applied.
	exists := make(map[string]bool, len(ops))
	for id := range m.docs {
		exists[id] = true
	}
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			exists[op.ID] = true
		case OpUpdate:
			if !exists[op.ID] {
				return eris.Wrapf(ErrNotFound, "memory: update %s", op.ID)
			}
		case OpDelete:
			delete(exists, op.ID)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			m.docs[op.ID] = company.NewRecord(op.ID, setFields(op.Fields)).Clone().Fields
		case OpUpdate:
			r := company.NewRecord(op.ID, m.docs[op.ID])
			r.Apply(company.NewRecord(op.ID, op.Fields).Clone().Fields)
			m.docs[op.ID] = r.Fields
		case OpDelete:
			delete(m.docs, op.ID)
		}
	}
	m.commits++
	return nil
}

func (m *Memory) MaxBatchOps() int { return m.maxOps }

func (m *Memory) Close() error { return nil }
