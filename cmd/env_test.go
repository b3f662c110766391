package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/config"
	"github.com/sells-group/companydb/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testConfig returns a valid configuration over a SQLite store and file
// checkpoints under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.Store.Driver = config.DriverSQLite
	c.Store.SQLitePath = filepath.Join(dir, "companies.sqlite")
	c.Dedup.Strategy = "full-scan"
	c.Dedup.KeyMode = "auto"
	c.Batch.PageSize = 2
	c.Batch.BatchSize = 500
	c.Batch.CheckpointEvery = 1
	c.Checkpoint.Backend = config.CheckpointFile
	c.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	c.Checkpoint.SQLitePath = filepath.Join(dir, "checkpoints", "checkpoints.sqlite")
	c.Checkpoint.Resume = true
	c.Report.Dir = filepath.Join(dir, "reports")
	c.Report.Format = "jsonl"
	c.Backfill.Encoding = "shift_jis"
	c.Backfill.MinAddressSimilarity = 0.3
	c.Backfill.TempDir = dir
	c.Retry.MaxAttempts = 1
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

func TestJobEnv_Close_Nil(t *testing.T) {
	env := &jobEnv{}
	assert.NotPanics(t, func() {
		env.Close()
	})
}

func TestInitEnv_SQLite(t *testing.T) {
	cfg = testConfig(t)

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	_, ok := env.Store.(*store.SQLiteStore)
	assert.True(t, ok)
	_, ok = env.Checkpoints.(*checkpoint.FileStore)
	assert.True(t, ok)
}

func TestInitEnv_SQLiteCheckpoints(t *testing.T) {
	cfg = testConfig(t)
	cfg.Checkpoint.Backend = config.CheckpointSQLite

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	ctx := context.Background()
	require.NoError(t, env.Checkpoints.Save(ctx, "dedup", checkpoint.Cursor{LastID: "x"}))
	cur, err := env.Checkpoints.Load(ctx, "dedup")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "x", cur.LastID)
}

func TestInitEnv_SchemaExtraFields(t *testing.T) {
	cfg = testConfig(t)
	cfg.Schema.ExtraFields = []string{"legacy_code"}

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()
	assert.True(t, env.Schema.Has("legacy_code"))
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "postgres"

	env, err := initEnv(context.Background())
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestInitCheckpoints_PostgresNeedsPostgresStore(t *testing.T) {
	cfg = testConfig(t)
	cfg.Checkpoint.Backend = config.CheckpointPostgres

	_, _, err := initCheckpoints(context.Background(), store.NewMemory(nil))
	assert.Error(t, err)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mongo"

	_, err := initStore(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
