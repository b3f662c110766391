package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func dirty() []company.Record {
	return []company.Record{
		company.NewRecord("a", map[string]any{"name": "[Acme]", "capital": int64(50), "corporate_number": "１２３４５６７８９０１２３"}),
		company.NewRecord("b", map[string]any{"name": "Clean Co", "fax": "03-1234-5678"}),
		company.NewRecord("c", map[string]any{"name": "Tidy", "capital": int64(10_000_000)}),
		company.NewRecord("d", map[string]any{"name": "Bad CN", "corporate_number": "9.18E+12"}),
	}
}

func newCleaner(st store.Store) (*Cleaner, *report.Memory, *checkpoint.Memory) {
	rep := &report.Memory{}
	cps := checkpoint.NewMemory()
	return &Cleaner{Store: st, Checkpoints: cps, Report: rep}, rep, cps
}

var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func TestRun_AppliesRules(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil, dirty()...)
	c, rep, _ := newCleaner(st)

	sum, err := c.Run(ctx, Options{Retry: noRetry})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, int64(4), sum.Counters.Scanned)
	assert.Equal(t, int64(3), sum.Counters.Updated)
	assert.Equal(t, 3, rep.Count(report.ActionClean))

	a, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Acme", a.Get("name"))
	assert.Equal(t, int64(50_000_000), a.Get("capital"))
	assert.Equal(t, "1234567890123", a.Get("corporate_number"))

	b, err := st.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "0312345678", b.Get("fax"))

	d, err := st.Get(ctx, "d")
	require.NoError(t, err)
	assert.False(t, d.Has("corporate_number"))
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil, dirty()...)
	c, _, _ := newCleaner(st)

	_, err := c.Run(ctx, Options{Retry: noRetry})
	require.NoError(t, err)
	before := st.Records()

	sum, err := c.Run(ctx, Options{Retry: noRetry})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Counters.Updated)
	assert.Equal(t, before, st.Records())
}

func TestRun_DryRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil, dirty()...)
	c, rep, cps := newCleaner(st)

	sum, err := c.Run(ctx, Options{DryRun: true, CheckpointEvery: 1, PageSize: 1, Retry: noRetry})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 0, st.Commits())
	assert.Equal(t, 0, cps.Saves())
	assert.Equal(t, 3, rep.Count(report.ActionClean))
	for _, e := range rep.Entries {
		assert.True(t, e.DryRun)
	}
}

func TestRun_SelectedRules(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil, dirty()...)
	c, _, _ := newCleaner(st)

	sum, err := c.Run(ctx, Options{Rules: []string{"fax_digits"}, Retry: noRetry})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counters.Updated)

	a, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "[Acme]", a.Get("name"))
}

func TestRun_BackfillsLookupKeys(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil)
	// Raw ops skip key derivation, like records written before the keys existed.
	require.NoError(t, st.Commit(ctx, []store.Op{
		{Kind: store.OpSet, ID: "a", Fields: map[string]any{"name": "株式会社テスト", "corporate_number": "1234567890123"}},
		{Kind: store.OpSet, ID: "b", Fields: map[string]any{"name": "テスト株式会社"}},
	}))
	c, _, _ := newCleaner(st)

	sum, err := c.Run(ctx, Options{Rules: []string{"lookup_keys"}, Retry: noRetry})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Counters.Updated)

	got, err := st.FindByField(ctx, company.FieldNameKey, "テスト")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1234567890123", got[0].Get(company.FieldCorporateNumberKey))

	sum, err = c.Run(ctx, Options{Job: "again", Retry: noRetry})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Counters.Updated)
}

func TestRun_UnknownRule(t *testing.T) {
	c, _, _ := newCleaner(store.NewMemory(nil))
	_, err := c.Run(context.Background(), Options{Rules: []string{"nope"}})
	assert.Error(t, err)
}

func TestRun_LimitAndResume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(nil, dirty()...)
	c, _, cps := newCleaner(st)

	sum, err := c.Run(ctx, Options{Limit: 2, PageSize: 1, Retry: noRetry})
	require.NoError(t, err)
	assert.False(t, sum.Completed)
	assert.Equal(t, "b", sum.LastID)

	cur, err := cps.Load(ctx, DefaultJob)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(2), cur.Counters.Updated)

	sum, err = c.Run(ctx, Options{Resume: true, PageSize: 1, Retry: noRetry})
	require.NoError(t, err)
	assert.True(t, sum.Completed)
	assert.Equal(t, int64(3), sum.Counters.Updated)
	assert.Equal(t, int64(4), sum.Counters.Scanned)
}
