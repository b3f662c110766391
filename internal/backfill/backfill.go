// Package backfill fills missing corporate numbers from the National Tax
// Agency master file, matching by normalized name, then prefecture, then
// address similarity.
package backfill

import (
	"context"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/companydb/internal/batch"
	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/fetcher"
	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/resolve"
	"github.com/sells-group/companydb/internal/store"
	"github.com/sells-group/companydb/internal/sweep"
)

// DefaultJob is the checkpoint name used when Options.Job is empty.
const DefaultJob = "backfill"

// Options control a backfill run.
type Options struct {
	Job string
	// Master is a path or URL to the master CSV, or a ZIP holding it.
	Master string
	// Encoding of the master file; empty means Shift_JIS.
	Encoding             string
	MinAddressSimilarity float64
	TmpDir               string
	PageSize             int
	BatchSize            int
	DryRun               bool
	Resume               bool
	StartAfter           string
	EndBefore            string
	Limit                int
	CheckpointEvery      int
	Retry                resilience.RetryConfig
	Limiter              *rate.Limiter
}

// Backfiller runs backfill passes.
type Backfiller struct {
	Store       store.Store
	Checkpoints checkpoint.Store
	Report      report.Sink
	// Fetcher downloads the master when Options.Master is a URL.
	Fetcher fetcher.Fetcher
}

// Run collects target names, loads the matching master rows, then sweeps the
// range again writing adopted corporate numbers. Only the final sweep is
// checkpointed.
func (b *Backfiller) Run(ctx context.Context, opts Options) (*report.Summary, error) {
	if b.Store == nil {
		return nil, eris.New("backfill: no store")
	}
	if opts.Master == "" {
		return nil, eris.New("backfill: master file is required")
	}
	if b.Report == nil {
		b.Report = report.Discard{}
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	if opts.Encoding == "" {
		opts.Encoding = fetcher.EncodingShiftJIS
	}
	if opts.MinAddressSimilarity <= 0 {
		opts.MinAddressSimilarity = DefaultMinAddressSimilarity
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	log := zap.L().With(zap.String("job", opts.Job), zap.Bool("dry_run", opts.DryRun))
	started := time.Now().UTC()

	want, err := b.collectTargets(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.Info("backfill: targets collected", zap.Int("names", len(want)))

	src, err := fetcher.Open(ctx, b.Fetcher, opts.Master, opts.TmpDir)
	if err != nil {
		return nil, err
	}
	ix, rows, err := LoadMaster(ctx, src, opts.Encoding, want)
	_ = src.Close()
	if err != nil {
		return nil, err
	}
	log.Info("backfill: master loaded",
		zap.Int("rows", rows),
		zap.Int("names", len(ix)),
		zap.Int("candidates", ix.Len()),
	)

	var counters checkpoint.Counters
	write := func(e report.Entry) {
		e.Job = opts.Job
		e.DryRun = opts.DryRun
		if err := b.Report.Write(e); err != nil {
			log.Warn("backfill: write report entry", zap.Error(err))
		}
	}
	w := batch.NewWriter(b.Store, batch.Options{
		MaxOps:  opts.BatchSize,
		DryRun:  opts.DryRun,
		Retry:   opts.Retry,
		Limiter: opts.Limiter,
		OnFailure: func(f batch.Failure) {
			write(report.Entry{Action: report.ActionFailedBatch, Key: f.Key, DeletedIDs: f.IDs, Error: f.Err.Error()})
		},
	})

	sw := &sweep.Sweeper{Store: b.Store, Checkpoints: b.Checkpoints, Flusher: w, Counters: &counters}
	res, runErr := sw.Run(ctx, b.sweepOptions(opts, true), func(ctx context.Context, r company.Record) error {
		name, ok := target(r)
		if !ok {
			return nil
		}
		cand, outcome, score := Match(r, ix[name], opts.MinAddressSimilarity)
		switch outcome {
		case OutcomeNoCandidate:
			return nil
		case OutcomeAmbiguous, OutcomeLowSimilarity:
			counters.Skipped++
			write(report.Entry{Action: report.ActionSkip, PrimaryID: r.ID, Reason: string(outcome)})
			return nil
		}

		changes := Changes(r, cand)
		fields := make([]string, 0, len(changes))
		for k := range changes {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		counters.Groups++

		return w.Add(ctx, batch.Unit{
			Key: cand.CorporateNumber,
			Ops: []store.Op{store.Update(r.ID, changes)},
			Done: func(err error) {
				if err != nil {
					counters.Failed++
					return
				}
				counters.Updated++
				write(report.Entry{
					Action:    report.ActionBackfill,
					Key:       "cn:" + cand.CorporateNumber,
					PrimaryID: r.ID,
					Fields:    fields,
					Reason:    formatScore(score),
				})
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
	if err := b.Report.Summary(*sum); err != nil {
		log.Warn("backfill: write report summary", zap.Error(err))
	}
	msg := "backfill: finished"
	if opts.DryRun {
		msg = "backfill: dry run finished, no changes were written"
	}
	log.Info(msg,
		zap.Bool("completed", sum.Completed),
		zap.Int64("scanned", counters.Scanned),
		zap.Int64("matched", counters.Groups),
		zap.Int64("updated", counters.Updated),
		zap.Int64("skipped", counters.Skipped),
		zap.Int64("failed", counters.Failed),
	)
	return sum, runErr
}

// collectTargets returns the normalized names of records that lack a valid
// corporate number.
func (b *Backfiller) collectTargets(ctx context.Context, opts Options) (map[string]bool, error) {
	want := make(map[string]bool)
	sw := &sweep.Sweeper{Store: b.Store}
	_, err := sw.Run(ctx, b.sweepOptions(opts, false), func(_ context.Context, r company.Record) error {
		if name, ok := target(r); ok {
			want[name] = true
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "backfill: collect targets")
	}
	return want, nil
}

func (b *Backfiller) sweepOptions(opts Options, checkpointed bool) sweep.Options {
	so := sweep.Options{
		PageSize:   opts.PageSize,
		StartAfter: opts.StartAfter,
		EndBefore:  opts.EndBefore,
		Retry:      opts.Retry,
		DryRun:     opts.DryRun,
	}
	if checkpointed {
		so.Job = opts.Job
		so.Limit = opts.Limit
		so.CheckpointEvery = opts.CheckpointEvery
		so.Resume = opts.Resume
	}
	return so
}

// target reports whether r needs a corporate number and returns its
// normalized name.
func target(r company.Record) (string, bool) {
	if r.CorporateNumber() != "" {
		return "", false
	}
	name := resolve.NormalizeName(r.Text(company.FieldName))
	return name, name != ""
}

func formatScore(score float64) string {
	return "address_similarity=" + strconv.FormatFloat(score, 'f', 2, 64)
}
