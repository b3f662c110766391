// Package cleanup runs the row-level cleaning rules over a store.
package cleanup

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/companydb/internal/batch"
	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/resolve"
	"github.com/sells-group/companydb/internal/store"
	"github.com/sells-group/companydb/internal/sweep"
)

// DefaultJob is the checkpoint name used when Options.Job is empty.
const DefaultJob = "clean"

// Options control a clean run.
type Options struct {
	Job string
	// Rules selects cleaning rules by name; empty runs all of them.
	Rules           []string
	PageSize        int
	BatchSize       int
	DryRun          bool
	Resume          bool
	StartAfter      string
	EndBefore       string
	Limit           int
	CheckpointEvery int
	Retry           resilience.RetryConfig
	Limiter         *rate.Limiter
}

// Cleaner applies cleaning rules record by record.
type Cleaner struct {
	Store       store.Store
	Checkpoints checkpoint.Store
	Report      report.Sink
}

// Run sweeps the range and writes each record's net changes as one update.
func (c *Cleaner) Run(ctx context.Context, opts Options) (*report.Summary, error) {
	if c.Store == nil {
		return nil, eris.New("cleanup: no store")
	}
	if c.Report == nil {
		c.Report = report.Discard{}
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	rules, err := company.RulesByName(opts.Rules, resolve.LookupKeyRule())
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("job", opts.Job), zap.Bool("dry_run", opts.DryRun))
	started := time.Now().UTC()
	var counters checkpoint.Counters

	write := func(e report.Entry) {
		e.Job = opts.Job
		e.DryRun = opts.DryRun
		if err := c.Report.Write(e); err != nil {
			log.Warn("cleanup: write report entry", zap.Error(err))
		}
	}
	w := batch.NewWriter(c.Store, batch.Options{
		MaxOps:  opts.BatchSize,
		DryRun:  opts.DryRun,
		Retry:   opts.Retry,
		Limiter: opts.Limiter,
		OnFailure: func(f batch.Failure) {
			write(report.Entry{Action: report.ActionFailedBatch, Key: f.Key, DeletedIDs: f.IDs, Error: f.Err.Error()})
		},
	})

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	log.Info("cleanup: starting", zap.Strings("rules", names), zap.Int("batch_size", w.MaxOps()))

	sw := &sweep.Sweeper{Store: c.Store, Checkpoints: c.Checkpoints, Flusher: w, Counters: &counters}
	res, runErr := sw.Run(ctx, sweep.Options{
		Job:             opts.Job,
		PageSize:        opts.PageSize,
		StartAfter:      opts.StartAfter,
		EndBefore:       opts.EndBefore,
		Limit:           opts.Limit,
		CheckpointEvery: opts.CheckpointEvery,
		Resume:          opts.Resume,
		DryRun:          opts.DryRun,
		Retry:           opts.Retry,
	}, func(ctx context.Context, r company.Record) error {
		changes := company.Clean(r, rules)
		if len(changes) == 0 {
			return nil
		}
		fields := make([]string, 0, len(changes))
		for k := range changes {
			fields = append(fields, k)
		}
		sort.Strings(fields)

		return w.Add(ctx, batch.Unit{
			Key: r.ID,
			Ops: []store.Op{store.Update(r.ID, changes)},
			Done: func(err error) {
				if err != nil {
					counters.Failed++
					return
				}
				counters.Updated++
				write(report.Entry{Action: report.ActionClean, PrimaryID: r.ID, Fields: fields})
			},
		})
	})

	stats := w.Stats()
	sum := &report.Summary{
		Job:        opts.Job,
		DryRun:     opts.DryRun,
		Counters:   counters,
		Batches:    stats.Batches,
		FailedOps:  stats.FailedOps + stats.SkippedOps,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if res != nil {
		sum.Completed = res.Completed
		sum.Resumed = res.Resumed
		sum.LastID = res.LastID
	}
	if err := c.Report.Summary(*sum); err != nil {
		log.Warn("cleanup: write report summary", zap.Error(err))
	}

	msg := "cleanup: finished"
	if opts.DryRun {
		msg = "cleanup: dry run finished, no changes were written"
	}
	log.Info(msg,
		zap.Bool("completed", sum.Completed),
		zap.Int64("scanned", counters.Scanned),
		zap.Int64("updated", counters.Updated),
		zap.Int64("failed", counters.Failed),
	)
	return sum, runErr
}
