package checkpoint

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/db"
)

// PostgresStore keeps cursors in companydb.checkpoints, next to the records
// when the Postgres backend is in use.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a store over pool. The table comes from db.Migrate.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, job string) (*Cursor, error) {
	var (
		c        Cursor
		counters []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT last_id, counters, updated_at FROM companydb.checkpoints WHERE job = $1`,
		job,
	).Scan(&c.LastID, &counters, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: load checkpoint")
	}
	if err := json.Unmarshal(counters, &c.Counters); err != nil {
		return nil, eris.Wrap(err, "postgres: parse checkpoint counters")
	}
	return &c, nil
}

func (s *PostgresStore) Save(ctx context.Context, job string, c Cursor) error {
	if err := validateJob(job); err != nil {
		return err
	}
	counters, err := json.Marshal(c.Counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint counters")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO companydb.checkpoints (job, last_id, counters, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (job) DO UPDATE SET last_id = $2, counters = $3, updated_at = now()`,
		job, c.LastID, counters,
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) Clear(ctx context.Context, job string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM companydb.checkpoints WHERE job = $1`, job)
	return eris.Wrap(err, "postgres: delete checkpoint")
}
