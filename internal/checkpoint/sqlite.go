package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps cursors in a checkpoints table of a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteCheckpointTable = `
CREATE TABLE IF NOT EXISTS checkpoints (
	job        TEXT PRIMARY KEY,
	last_id    TEXT NOT NULL,
	counters   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// NewSQLite opens (and creates if needed) the checkpoint database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open sqlite")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteCheckpointTable,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "checkpoint: init sqlite")
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, job string) (*Cursor, error) {
	var (
		c        Cursor
		counters string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_id, counters, updated_at FROM checkpoints WHERE job = ?`, job,
	).Scan(&c.LastID, &counters, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: load %s", job)
	}
	if err := json.Unmarshal([]byte(counters), &c.Counters); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: parse counters for %s", job)
	}
	return &c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, job string, c Cursor) error {
	if err := validateJob(job); err != nil {
		return err
	}
	counters, err := json.Marshal(c.Counters)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal counters")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job, last_id, counters, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job) DO UPDATE SET last_id = excluded.last_id, counters = excluded.counters, updated_at = excluded.updated_at`,
		job, c.LastID, string(counters), time.Now().UTC(),
	)
	return eris.Wrapf(err, "checkpoint: save %s", job)
}

func (s *SQLiteStore) Clear(ctx context.Context, job string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job = ?`, job)
	return eris.Wrapf(err, "checkpoint: clear %s", job)
}
