package main

import (
	"io"
	"regexp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
)

// jobFlags are the flags shared by every store-sweeping job. Zero values fall
// back to configuration.
type jobFlags struct {
	job             string
	dryRun          bool
	resume          bool
	noResume        bool
	startAfter      string
	endBefore       string
	pageSize        int
	batchSize       int
	limit           int
	checkpointEvery int
}

func (f *jobFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.job, "job", "", "checkpoint and report name (default derived from the command and range)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "log and report intended changes without writing")
	fs.BoolVar(&f.resume, "resume", true, "resume from the saved checkpoint")
	fs.BoolVar(&f.noResume, "no-resume", false, "ignore any saved checkpoint and start over")
	fs.StringVar(&f.startAfter, "start-after", "", "only process IDs greater than this")
	fs.StringVar(&f.endBefore, "end-before", "", "only process IDs less than this")
	fs.IntVar(&f.pageSize, "page-size", 0, "records per scan page (default from config)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "ops per write batch, clamped to the store limit (default from config)")
	fs.IntVar(&f.limit, "limit", 0, "stop after this many records or groups, keeping the checkpoint (0 = no limit)")
	fs.IntVar(&f.checkpointEvery, "checkpoint-every", 0, "save the checkpoint every N pages or groups (default from config)")
}

// resolve fills unset values from configuration.
func (f *jobFlags) resolve(cmd *cobra.Command) {
	if !cmd.Flags().Changed("resume") {
		f.resume = cfg.Checkpoint.Resume
	}
	if f.noResume {
		f.resume = false
	}
	if f.pageSize <= 0 {
		f.pageSize = cfg.Batch.PageSize
	}
	if f.batchSize <= 0 {
		f.batchSize = cfg.Batch.BatchSize
	}
	if f.checkpointEvery <= 0 {
		f.checkpointEvery = cfg.Batch.CheckpointEvery
	}
}

var unsafeJobChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// jobName returns the checkpoint name. Shard runs get one checkpoint per
// range so concurrent processes never share a cursor.
func (f *jobFlags) jobName(base string) string {
	if f.job != "" {
		return f.job
	}
	if f.startAfter == "" && f.endBefore == "" {
		return base
	}
	lo, hi := "start", "end"
	if f.startAfter != "" {
		lo = unsafeJobChars.ReplaceAllString(f.startAfter, "_")
	}
	if f.endBefore != "" {
		hi = unsafeJobChars.ReplaceAllString(f.endBefore, "_")
	}
	return base + "_" + lo + "_" + hi
}

func retryConfig() resilience.RetryConfig {
	r := cfg.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// writeLimiter caps commits per second; nil means unlimited.
func writeLimiter() *rate.Limiter {
	if cfg.Batch.WritesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.Batch.WritesPerSecond), 1)
}

// openReport opens the audit report for job, or a discarding sink when
// reports are disabled.
func openReport(job string) (report.Sink, error) {
	if cfg.Report.Disabled {
		return report.Discard{}, nil
	}
	sink, path, err := report.Open(cfg.Report.Dir, job, cfg.Report.Format)
	if err != nil {
		return nil, err
	}
	zap.L().Info("writing report", zap.String("path", path))
	return sink, nil
}

// printSummary renders the run summary for the operator.
func printSummary(w io.Writer, sum *report.Summary) {
	if sum == nil {
		return
	}
	if err := report.WriteSummary(w, *sum); err != nil {
		zap.L().Warn("print summary", zap.Error(err))
	}
}
