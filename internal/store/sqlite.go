package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/companydb/internal/company"
)

// SQLiteStore implements Store using modernc.org/sqlite. Records are kept as
// JSON text; updates use json_patch, whose null handling matches Update.
type SQLiteStore struct {
	db     *sql.DB
	schema *company.Schema
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, schema *company.Schema) (*SQLiteStore, error) {
	if schema == nil {
		schema = company.DefaultSchema()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, schema: schema}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_corporate_number ON companies(json_extract(data, '$.corporate_number'));
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(json_extract(data, '$.name'));
CREATE INDEX IF NOT EXISTS idx_companies_corporate_number_key ON companies(json_extract(data, '$.corporate_number_key'));
CREATE INDEX IF NOT EXISTS idx_companies_name_key ON companies(json_extract(data, '$.name_key'));
`

// Migrate creates the companies table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) MaxBatchOps() int { return 500 }

func (s *SQLiteStore) Scan(ctx context.Context, afterID string, limit int) ([]company.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM companies WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan")
	}
	return s.collect(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*company.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM companies WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get %s", id)
	}
	fields, err := decodeFields([]byte(data))
	if err != nil {
		return nil, err
	}
	r := s.schema.Record(id, fields)
	return &r, nil
}

func (s *SQLiteStore) FindByField(ctx context.Context, field string, value any) ([]company.Record, error) {
	if !s.schema.Has(field) {
		return nil, eris.Wrapf(company.ErrUnknownField, "sqlite: find by %q", field)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM companies WHERE json_extract(data, '$."' || ? || '"') = ? ORDER BY id`,
		field, value,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find by %s", field)
	}
	return s.collect(rows)
}

func (s *SQLiteStore) collect(rows *sql.Rows) ([]company.Record, error) {
	defer rows.Close() //nolint:errcheck

	var out []company.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		fields, err := decodeFields([]byte(data))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: record %s", id)
		}
		out = append(out, s.schema.Record(id, fields))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rows")
}

func (s *SQLiteStore) Commit(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := validateOps(s.schema, ops, s.MaxBatchOps()); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, op := range ops {
		if err := s.apply(ctx, tx, op); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) apply(ctx context.Context, tx *sql.Tx, op Op) error {
	switch op.Kind {
	case OpSet:
		data, err := json.Marshal(setFields(op.Fields))
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal %s", op.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO companies (id, data, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			op.ID, string(data),
		)
		return eris.Wrapf(err, "sqlite: set %s", op.ID)
	case OpUpdate:
		patch, err := json.Marshal(op.Fields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal %s", op.ID)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE companies SET data = json_patch(data, ?), updated_at = datetime('now') WHERE id = ?`,
			string(patch), op.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update %s", op.ID)
		}
		return checkRowsAffected(res, op.ID)
	case OpDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, op.ID)
		return eris.Wrapf(err, "sqlite: delete %s", op.ID)
	default:
		return eris.Errorf("sqlite: unknown op kind %d", op.Kind)
	}
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update %s", id)
	}
	return nil
}
