package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/db"
)

// DefaultPostgresTable is the table created by db.Migrate.
const DefaultPostgresTable = "companydb.companies"

// PostgresStore implements Store over a table of (id text, data jsonb).
type PostgresStore struct {
	pool    db.Pool
	table   string
	schema  *company.Schema
	closeFn func()
}

// NewPostgres wraps a pool. closeFn, if non-nil, runs on Close.
func NewPostgres(pool db.Pool, table string, schema *company.Schema, closeFn func()) *PostgresStore {
	if table == "" {
		table = DefaultPostgresTable
	}
	if schema == nil {
		schema = company.DefaultSchema()
	}
	return &PostgresStore{pool: pool, table: table, schema: schema, closeFn: closeFn}
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

// Pool returns the underlying pool, shared with the Postgres checkpoint store.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) MaxBatchOps() int { return 1000 }

func (s *PostgresStore) Scan(ctx context.Context, afterID string, limit int) ([]company.Record, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, data FROM %s WHERE id > $1 ORDER BY id COLLATE "C" LIMIT $2`, db.QuoteTable(s.table)),
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan")
	}
	return s.collect(rows)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*company.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, db.QuoteTable(s.table)),
		id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get %s", id)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	r := s.schema.Record(id, fields)
	return &r, nil
}

// FindByField compares the field's text rendering, so numbers match their
// decimal form.
func (s *PostgresStore) FindByField(ctx context.Context, field string, value any) ([]company.Record, error) {
	if !s.schema.Has(field) {
		return nil, eris.Wrapf(company.ErrUnknownField, "postgres: find by %q", field)
	}
	text, ok := company.AsString(value)
	if !ok {
		return nil, eris.Errorf("postgres: find by %s: unsupported value %T", field, value)
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, data FROM %s WHERE data->>$1 = $2 ORDER BY id COLLATE "C"`, db.QuoteTable(s.table)),
		field, text,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find by %s", field)
	}
	return s.collect(rows)
}

func (s *PostgresStore) collect(rows pgx.Rows) ([]company.Record, error) {
	defer rows.Close()

	var out []company.Record
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		fields, err := decodeFields(data)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: record %s", id)
		}
		out = append(out, s.schema.Record(id, fields))
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rows")
}

// Commit applies ops in one transaction. Consecutive sets are written with a
// single COPY-based upsert.
func (s *PostgresStore) Commit(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := validateOps(s.schema, ops, s.MaxBatchOps()); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var pending [][]any
	flushSets := func() error {
		if len(pending) == 0 {
			return nil
		}
		_, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        s.table,
			Columns:      []string{"id", "data", "updated_at"},
			ConflictKeys: []string{"id"},
		}, pending)
		pending = nil
		return err
	}

	for _, op := range ops {
		if op.Kind == OpSet {
			data, err := json.Marshal(setFields(op.Fields))
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal %s", op.ID)
			}
			pending = append(pending, []any{op.ID, data, now})
			continue
		}
		if err := flushSets(); err != nil {
			return err
		}
		if err := s.apply(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := flushSets(); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) apply(ctx context.Context, tx pgx.Tx, op Op) error {
	table := db.QuoteTable(s.table)
	switch op.Kind {
	case OpUpdate:
		patch, err := json.Marshal(op.Fields)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal %s", op.ID)
		}
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET data = jsonb_strip_nulls(data || $2::jsonb), updated_at = now() WHERE id = $1`, table),
			op.ID, patch,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update %s", op.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "postgres: update %s", op.ID)
		}
		return nil
	case OpDelete:
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), op.ID)
		return eris.Wrapf(err, "postgres: delete %s", op.ID)
	default:
		return eris.Errorf("postgres: unknown op kind %d", op.Kind)
	}
}
