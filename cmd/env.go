package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/config"
	"github.com/sells-group/companydb/internal/db"
	"github.com/sells-group/companydb/internal/store"
)

// jobEnv holds the single store handle and checkpoint store shared by a
// command. Jobs receive them by injection and never open their own.
type jobEnv struct {
	Store       store.Store
	Schema      *company.Schema
	Checkpoints checkpoint.Store

	closers []func() error
}

// Close releases resources held by the environment, checkpoints first.
func (e *jobEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
	e.closers = nil
}

// initEnv validates configuration and opens the store and checkpoint store.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*jobEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &jobEnv{Schema: company.DefaultSchema().With(cfg.Schema.ExtraFields...)}
	st, err := initStore(ctx, env.Schema)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	cps, closeFn, err := initCheckpoints(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Checkpoints = cps
	if closeFn != nil {
		env.closers = append(env.closers, closeFn)
	}
	return env, nil
}

// initStore opens the configured backend and applies its migrations.
func initStore(ctx context.Context, schema *company.Schema) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverFirestore:
		fs := cfg.Store.Firestore
		return store.NewFirestore(ctx, store.FirestoreConfig{
			ProjectID:       fs.ProjectID,
			DatabaseID:      fs.DatabaseID,
			Collection:      fs.Collection,
			CredentialsFile: fs.CredentialsFile,
		}, schema)
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		st := store.NewPostgres(pool, cfg.Store.Table, schema, pool.Close)
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	case config.DriverSQLite:
		st, err := store.NewSQLite(cfg.Store.SQLitePath, schema)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCheckpoints opens the configured checkpoint backend. The returned close
// func may be nil.
func initCheckpoints(ctx context.Context, st store.Store) (checkpoint.Store, func() error, error) {
	switch cfg.Checkpoint.Backend {
	case config.CheckpointFile:
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir), nil, nil
	case config.CheckpointSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Checkpoint.SQLitePath), 0o755); err != nil {
			return nil, nil, eris.Wrap(err, "create checkpoint dir")
		}
		cps, err := checkpoint.NewSQLite(ctx, cfg.Checkpoint.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return cps, cps.Close, nil
	case config.CheckpointPostgres:
		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, nil, eris.New("postgres checkpoints need the postgres store driver")
		}
		return checkpoint.NewPostgres(pg.Pool()), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported checkpoint backend: %s", cfg.Checkpoint.Backend)
	}
}
