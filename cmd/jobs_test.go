package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/store"
)

func seededEnv(t *testing.T) *jobEnv {
	t.Helper()
	cfg = testConfig(t)
	env, err := initEnv(context.Background())
	require.NoError(t, err)
	t.Cleanup(env.Close)

	require.NoError(t, env.Store.Commit(context.Background(), []store.Op{
		store.Set("a1", map[string]any{"name": "株式会社テスト", "corporate_number": "1234567890123", "phone_number": "03-0000-0000", "address": "東京都千代田区1-1", "prefecture": "東京都"}),
		store.Set("a2", map[string]any{"name": "テスト株式会社", "corporate_number": "1234567890123", "fax": "03-1111-1111", "capital": int64(10000000)}),
		store.Set("b1", map[string]any{"name": "サンプル", "address": "東京都港区1-2-3"}),
		store.Set("b2", map[string]any{"name": "(株)サンプル", "address": "東京都港区1丁目2番3号"}),
		store.Set("c1", map[string]any{"name": "単独", "corporate_number": "9999999999999"}),
	}))
	return env
}

func outputCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	return c, &out
}

func TestRunDedup(t *testing.T) {
	env := seededEnv(t)
	ctx := context.Background()
	dedupFlags = jobFlags{resume: true}
	dedupStrategy, dedupKeyMode = "", ""
	dedupFlags.resolve(newFlagCommand(&jobFlags{}))

	c, out := outputCommand()
	require.NoError(t, runDedup(ctx, c, env))
	assert.Contains(t, out.String(), "completed")

	_, err := env.Store.Get(ctx, "a1")
	require.NoError(t, err, "a1 has the higher score")
	_, err = env.Store.Get(ctx, "a2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = env.Store.Get(ctx, "b2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	primary, err := env.Store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "03-1111-1111", primary.Get("fax"), "empty fields filled from the deleted duplicate")

	cur, err := env.Checkpoints.Load(ctx, "dedup")
	require.NoError(t, err)
	assert.Nil(t, cur, "checkpoint is removed on completion")

	reports, err := filepath.Glob(filepath.Join(cfg.Report.Dir, "dedup-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestRunDedup_DryRunWritesNothing(t *testing.T) {
	env := seededEnv(t)
	ctx := context.Background()
	dedupFlags = jobFlags{dryRun: true}
	dedupStrategy, dedupKeyMode = "incremental", ""
	t.Cleanup(func() { dedupStrategy = "" })
	dedupFlags.resolve(newFlagCommand(&jobFlags{}))

	c, out := outputCommand()
	require.NoError(t, runDedup(ctx, c, env))
	assert.Contains(t, out.String(), "dry run")

	for _, id := range []string{"a1", "a2", "b1", "b2", "c1"} {
		_, err := env.Store.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestRunDedup_BadStrategy(t *testing.T) {
	env := seededEnv(t)
	dedupFlags = jobFlags{}
	dedupStrategy = "sideways"
	t.Cleanup(func() { dedupStrategy = "" })

	c, _ := outputCommand()
	assert.Error(t, runDedup(context.Background(), c, env))
}

func TestRunClean(t *testing.T) {
	env := seededEnv(t)
	ctx := context.Background()
	cleanFlags = jobFlags{}
	cleanRules = []string{"fax_digits"}
	t.Cleanup(func() { cleanRules = nil })
	cleanFlags.resolve(newFlagCommand(&jobFlags{}))

	c, _ := outputCommand()
	require.NoError(t, runClean(ctx, c, env))

	r, err := env.Store.Get(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "0311111111", r.Get("fax"))
}

func TestRunImport(t *testing.T) {
	env := seededEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,corporate_number\n新規,5555555555555\n"), 0o644))
	importCSVPath, importEncoding, importProgress, importDryRun = path, "utf-8", false, false

	c, out := outputCommand()
	require.NoError(t, runImport(ctx, c, env))
	assert.Contains(t, out.String(), "import")

	r, err := env.Store.Get(ctx, "5555555555555")
	require.NoError(t, err)
	assert.Equal(t, "新規", r.Get("name"))
}

func TestRunBackfill_RequiresMaster(t *testing.T) {
	env := seededEnv(t)
	backfillFlags = jobFlags{}
	backfillMaster = ""

	c, _ := outputCommand()
	err := runBackfill(context.Background(), c, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master")
}

func TestCheckpointShowAndClear(t *testing.T) {
	env := seededEnv(t)
	ctx := context.Background()
	require.NoError(t, env.Checkpoints.Save(ctx, "dedup_10_20", checkpoint.Cursor{
		LastID:   "15",
		Counters: checkpoint.Counters{Scanned: 42, Merged: 3},
	}))

	job := (&jobFlags{startAfter: "10", endBefore: "20"}).jobName("dedup")
	c, out := outputCommand()
	require.NoError(t, showCheckpoint(ctx, c, env.Checkpoints, job))
	assert.Contains(t, out.String(), "15")
	assert.Contains(t, out.String(), `"scanned":42`)

	require.NoError(t, clearCheckpoint(ctx, env.Checkpoints, job))
	out.Reset()
	require.NoError(t, showCheckpoint(ctx, c, env.Checkpoints, job))
	assert.Contains(t, out.String(), "no checkpoint for dedup_10_20")
}
