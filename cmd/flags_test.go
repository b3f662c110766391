package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/companydb/internal/config"
)

func TestJobName(t *testing.T) {
	tests := []struct {
		name  string
		flags jobFlags
		want  string
	}{
		{"whole collection", jobFlags{}, "dedup"},
		{"explicit", jobFlags{job: "nightly", startAfter: "10"}, "nightly"},
		{"shard", jobFlags{startAfter: "10", endBefore: "20"}, "dedup_10_20"},
		{"open start", jobFlags{endBefore: "5"}, "dedup_start_5"},
		{"open end", jobFlags{startAfter: "90"}, "dedup_90_end"},
		{"unsafe characters", jobFlags{startAfter: "a/b", endBefore: "../c"}, "dedup_a_b__c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.jobName("dedup"))
		})
	}
}

func newFlagCommand(f *jobFlags) *cobra.Command {
	c := &cobra.Command{Use: "test"}
	f.register(c)
	return c
}

func TestJobFlags_ResolveFromConfig(t *testing.T) {
	cfg = &config.Config{}
	cfg.Batch.PageSize = 300
	cfg.Batch.BatchSize = 400
	cfg.Batch.CheckpointEvery = 7
	cfg.Checkpoint.Resume = false

	var f jobFlags
	c := newFlagCommand(&f)
	require.NoError(t, c.ParseFlags([]string{"--page-size", "50"}))
	f.resolve(c)

	assert.Equal(t, 50, f.pageSize)
	assert.Equal(t, 400, f.batchSize)
	assert.Equal(t, 7, f.checkpointEvery)
	assert.False(t, f.resume, "config default applies when --resume is not given")
}

func TestJobFlags_ResumeFlags(t *testing.T) {
	cfg = &config.Config{}
	cfg.Checkpoint.Resume = false

	var f jobFlags
	c := newFlagCommand(&f)
	require.NoError(t, c.ParseFlags([]string{"--resume"}))
	f.resolve(c)
	assert.True(t, f.resume)

	cfg.Checkpoint.Resume = true
	var g jobFlags
	c = newFlagCommand(&g)
	require.NoError(t, c.ParseFlags([]string{"--no-resume"}))
	g.resolve(c)
	assert.False(t, g.resume)
}

func TestWriteLimiter(t *testing.T) {
	cfg = &config.Config{}
	assert.Nil(t, writeLimiter())

	cfg.Batch.WritesPerSecond = 2.5
	l := writeLimiter()
	require.NotNil(t, l)
	assert.InDelta(t, 2.5, float64(l.Limit()), 0.001)
}

func TestRetryConfig(t *testing.T) {
	cfg = &config.Config{}
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialBackoffMs = 10
	r := retryConfig()
	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, int64(10), r.InitialBackoff.Milliseconds())
}
