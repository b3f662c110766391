package sweep

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func memStore(n int) *store.Memory {
	var recs []company.Record
	for i := range n {
		recs = append(recs, company.NewRecord(fmt.Sprintf("%02d", i), map[string]any{"name": "x"}))
	}
	return store.NewMemory(nil, recs...)
}

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush(context.Context) error {
	f.n++
	return nil
}

func collect(seen *[]string) Handler {
	return func(_ context.Context, r company.Record) error {
		*seen = append(*seen, r.ID)
		return nil
	}
}

func TestRun_VisitsAllInOrder(t *testing.T) {
	cps := checkpoint.NewMemory()
	f := &countingFlusher{}
	s := &Sweeper{Store: memStore(7), Checkpoints: cps, Flusher: f}

	var seen []string
	res, err := s.Run(context.Background(), Options{Job: "clean", PageSize: 3, Retry: noRetry}, collect(&seen))
	require.NoError(t, err)

	assert.Equal(t, []string{"00", "01", "02", "03", "04", "05", "06"}, seen)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(7), res.Scanned)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int64(7), s.Counters.Scanned)
	assert.Equal(t, 1, f.n)
}

func TestRun_Range(t *testing.T) {
	s := &Sweeper{Store: memStore(10)}
	var seen []string
	res, err := s.Run(context.Background(), Options{StartAfter: "02", EndBefore: "06", PageSize: 2, Retry: noRetry}, collect(&seen))
	require.NoError(t, err)
	assert.Equal(t, []string{"03", "04", "05"}, seen)
	assert.True(t, res.Completed)
}

func TestRun_LimitLeavesCheckpoint(t *testing.T) {
	ctx := context.Background()
	cps := checkpoint.NewMemory()
	s := &Sweeper{Store: memStore(10), Checkpoints: cps}

	var seen []string
	res, err := s.Run(ctx, Options{Job: "clean", PageSize: 3, Limit: 4, Retry: noRetry}, collect(&seen))
	require.NoError(t, err)
	assert.True(t, res.Limited)
	assert.False(t, res.Completed)
	assert.Len(t, seen, 4)

	cur, err := cps.Load(ctx, "clean")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "03", cur.LastID)
	assert.Equal(t, int64(4), cur.Counters.Scanned)

	// Resume picks up after the checkpoint and clears it at the end.
	var rest []string
	s2 := &Sweeper{Store: memStore(10), Checkpoints: cps}
	res, err = s2.Run(ctx, Options{Job: "clean", PageSize: 3, Resume: true, Retry: noRetry}, collect(&rest))
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, []string{"04", "05", "06", "07", "08", "09"}, rest)
	assert.Equal(t, int64(10), s2.Counters.Scanned)

	cur, err = cps.Load(ctx, "clean")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRun_NoResumeIgnoresCheckpoint(t *testing.T) {
	ctx := context.Background()
	cps := checkpoint.NewMemory()
	require.NoError(t, cps.Save(ctx, "clean", checkpoint.Cursor{LastID: "05"}))

	var seen []string
	s := &Sweeper{Store: memStore(7), Checkpoints: cps}
	_, err := s.Run(ctx, Options{Job: "clean", Retry: noRetry}, collect(&seen))
	require.NoError(t, err)
	assert.Len(t, seen, 7)
}

func TestRun_PeriodicCheckpoint(t *testing.T) {
	ctx := context.Background()
	cps := checkpoint.NewMemory()
	f := &countingFlusher{}
	s := &Sweeper{Store: memStore(9), Checkpoints: cps, Flusher: f}

	_, err := s.Run(ctx, Options{Job: "clean", PageSize: 2, CheckpointEvery: 2, Retry: noRetry}, collect(new([]string)))
	require.NoError(t, err)

	// Pages 2 and 4 checkpoint; the final short page completes.
	assert.Equal(t, 2, cps.Saves())
	assert.Equal(t, 3, f.n)
}

func TestRun_DryRunNeverTouchesCheckpoints(t *testing.T) {
	ctx := context.Background()
	cps := checkpoint.NewMemory()
	require.NoError(t, cps.Save(ctx, "clean", checkpoint.Cursor{LastID: "05"}))

	var seen []string
	s := &Sweeper{Store: memStore(7), Checkpoints: cps}
	_, err := s.Run(ctx, Options{Job: "clean", PageSize: 2, CheckpointEvery: 1, Resume: true, DryRun: true, Retry: noRetry}, collect(&seen))
	require.NoError(t, err)

	assert.Len(t, seen, 7)
	assert.Equal(t, 1, cps.Saves())
	cur, err := cps.Load(ctx, "clean")
	require.NoError(t, err)
	assert.Equal(t, "05", cur.LastID)
}

func TestRun_HandlerErrorSavesProgress(t *testing.T) {
	ctx := context.Background()
	cps := checkpoint.NewMemory()
	s := &Sweeper{Store: memStore(5), Checkpoints: cps}

	boom := eris.New("boom")
	_, err := s.Run(ctx, Options{Job: "clean", Retry: noRetry}, func(_ context.Context, r company.Record) error {
		if r.ID == "03" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)

	cur, err := cps.Load(ctx, "clean")
	require.NoError(t, err)
	assert.Equal(t, "02", cur.LastID)
}

func TestRun_CancelSavesProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cps := checkpoint.NewMemory()
	f := &countingFlusher{}
	s := &Sweeper{Store: memStore(6), Checkpoints: cps, Flusher: f}

	_, err := s.Run(ctx, Options{Job: "clean", PageSize: 2, Retry: noRetry}, func(_ context.Context, r company.Record) error {
		if r.ID == "01" {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.n)

	cur, err := cps.Load(context.Background(), "clean")
	require.NoError(t, err)
	assert.Equal(t, "01", cur.LastID)
}

type failingScan struct {
	*store.Memory
	err error
}

func (f failingScan) Scan(context.Context, string, int) ([]company.Record, error) {
	return nil, f.err
}

func TestRun_ScanFailure(t *testing.T) {
	s := &Sweeper{Store: failingScan{Memory: memStore(1), err: eris.New("down")}}
	_, err := s.Run(context.Background(), Options{Retry: noRetry}, collect(new([]string)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep: scan")
}
