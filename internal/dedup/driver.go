// Package dedup finds duplicate company records and merges each group into
// its best-populated member, committing through bounded atomic batches with
// resumable checkpoints.
//
// A run moves through Scanning, Evaluating and Committing until Done. In dry
// run the Committing phase is never entered: intended merges are logged and
// reported instead.
package dedup

import (
	"context"
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

// Strategy selects how groups are formed.
type Strategy string

// Strategies.
const (
	// StrategyFullScan reads the whole range, buckets by key, then evaluates
	// groups in anchor order.
	StrategyFullScan Strategy = "full-scan"
	// StrategyIncremental queries the store for each scanned record's group
	// and evaluates the group at its anchor.
	StrategyIncremental Strategy = "incremental"
)

// ParseStrategy validates a strategy name. An empty name selects full-scan.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyFullScan:
		return StrategyFullScan, nil
	case StrategyIncremental:
		return StrategyIncremental, nil
	default:
		return "", eris.Errorf("dedup: unknown strategy %q", s)
	}
}

// Phase is the driver's current state.
type Phase string

// Phases.
const (
	PhaseScanning   Phase = "scanning"
	PhaseEvaluating Phase = "evaluating"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
)

// DefaultJob is the checkpoint name used when Options.Job is empty.
const DefaultJob = "dedup"

// Options control one run.
type Options struct {
	Job        string
	Strategy   Strategy
	PageSize   int
	BatchSize  int
	DryRun     bool
	Resume     bool
	StartAfter string
	EndBefore  string
	// Limit caps the groups evaluated (full-scan) or records scanned
	// (incremental). The checkpoint is kept when it is reached.
	Limit int
	// CheckpointEvery is counted in groups for full-scan and pages for
	// incremental.
	CheckpointEvery int
	Retry           resilience.RetryConfig
	Limiter         *rate.Limiter
}

// Driver runs dedup passes over one store. All collaborators are injected.
type Driver struct {
	Store       store.Store
	Checkpoints checkpoint.Store
	Report      report.Sink
	Normalizer  *resolve.Normalizer
	Resolver    *resolve.Resolver

	// OnPhase, when set, observes every phase change.
	OnPhase func(Phase)

	phase Phase
}

// New creates a driver.
func New(st store.Store, cps checkpoint.Store, sink report.Sink, n *resolve.Normalizer, r *resolve.Resolver) *Driver {
	return &Driver{Store: st, Checkpoints: cps, Report: sink, Normalizer: n, Resolver: r}
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase { return d.phase }

func (d *Driver) enter(p Phase) {
	if d.phase == p {
		return
	}
	d.phase = p
	zap.L().Debug("dedup: phase", zap.String("phase", string(p)))
	if d.OnPhase != nil {
		d.OnPhase(p)
	}
}

// run holds per-run state shared by both strategies.
type run struct {
	d        *Driver
	opts     Options
	log      *zap.Logger
	writer   *batch.Writer
	counters checkpoint.Counters
	started  time.Time
}

// Run executes a pass and returns its summary. The summary is also written to
// the report sink. A canceled context returns the summary so far together
// with the context error, after saving the checkpoint.
func (d *Driver) Run(ctx context.Context, opts Options) (*report.Summary, error) {
	if d.Store == nil || d.Normalizer == nil || d.Resolver == nil {
		return nil, eris.New("dedup: driver missing store, normalizer or resolver")
	}
	if d.Report == nil {
		d.Report = report.Discard{}
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	opts.Strategy = strategy

	r := &run{
		d:       d,
		opts:    opts,
		started: time.Now().UTC(),
		log: zap.L().With(
			zap.String("job", opts.Job),
			zap.String("strategy", string(strategy)),
			zap.Bool("dry_run", opts.DryRun),
		),
	}
	r.writer = batch.NewWriter(phaseStore{Store: d.Store, d: d}, batch.Options{
		MaxOps:    opts.BatchSize,
		DryRun:    opts.DryRun,
		Retry:     opts.Retry,
		Limiter:   opts.Limiter,
		OnFailure: r.reportFailure,
	})
	r.log.Info("dedup: starting",
		zap.Int("page_size", opts.PageSize),
		zap.Int("batch_size", r.writer.MaxOps()),
		zap.String("start_after", opts.StartAfter),
		zap.String("end_before", opts.EndBefore),
	)

	var res outcome
	switch strategy {
	case StrategyIncremental:
		res, err = r.incremental(ctx)
	default:
		res, err = r.fullScan(ctx)
	}
	d.enter(PhaseDone)

	sum := r.summary(res)
	if serr := d.Report.Summary(*sum); serr != nil {
		r.log.Warn("dedup: write report summary", zap.Error(serr))
	}
	r.logSummary(sum)
	return sum, err
}

type outcome struct {
	lastID    string
	completed bool
	resumed   bool
}

// evaluate resolves one group and queues its writes as a single unit.
func (r *run) evaluate(ctx context.Context, key string, group []company.Record) error {
	r.d.enter(PhaseEvaluating)
	r.counters.Groups++

	dec, err := r.d.Resolver.Resolve(group)
	if err != nil {
		return eris.Wrapf(err, "dedup: resolve %s", key)
	}
	dec.Key = key
	for _, id := range dec.KeptIDs {
		r.counters.Skipped++
		r.log.Warn("dedup: keeping duplicate with fields outside schema",
			zap.String("key", key),
			zap.String("id", id),
			zap.String("primary", dec.PrimaryID),
			zap.Strings("dropped", dec.Dropped[id]),
		)
		r.write(report.Entry{
			Action:    report.ActionSkip,
			Key:       key,
			PrimaryID: id,
			Fields:    dec.Dropped[id],
			Reason:    "fields outside schema, not deleted",
		})
	}
	if dec.NoOp() {
		return nil
	}

	ops := make([]store.Op, 0, len(dec.DeleteIDs)+1)
	if len(dec.Updates) > 0 {
		ops = append(ops, store.Update(dec.PrimaryID, dec.Updates))
	}
	for _, id := range dec.DeleteIDs {
		ops = append(ops, store.Delete(id))
	}

	return r.writer.Add(ctx, batch.Unit{
		Key: key,
		Ops: ops,
		Done: func(err error) {
			if err != nil {
				r.counters.Failed++
				return
			}
			r.counters.Merged++
			r.counters.Deleted += int64(len(dec.DeleteIDs))
			if len(dec.Updates) > 0 {
				r.counters.Updated++
			}
			r.write(report.Entry{
				Action:     report.ActionMerge,
				Key:        key,
				PrimaryID:  dec.PrimaryID,
				DeletedIDs: dec.DeleteIDs,
				Fields:     dec.MergedFields(),
			})
		},
	})
}

func (r *run) reportFailure(f batch.Failure) {
	e := report.Entry{
		Action:     report.ActionFailedBatch,
		Key:        f.Key,
		DeletedIDs: f.IDs,
	}
	if f.Err != nil {
		e.Error = f.Err.Error()
	}
	r.write(e)
}

func (r *run) write(e report.Entry) {
	e.Job = r.opts.Job
	e.DryRun = r.opts.DryRun
	if err := r.d.Report.Write(e); err != nil {
		r.log.Warn("dedup: write report entry", zap.Error(err))
	}
}

func (r *run) save(ctx context.Context, lastID string) error {
	if err := r.writer.Flush(ctx); err != nil {
		return err
	}
	return sweep.Save(ctx, r.d.Checkpoints, r.opts.Job, r.opts.DryRun, lastID, r.counters)
}

func (r *run) summary(res outcome) *report.Summary {
	stats := r.writer.Stats()
	return &report.Summary{
		Job:        r.opts.Job,
		DryRun:     r.opts.DryRun,
		Completed:  res.completed,
		Resumed:    res.resumed,
		LastID:     res.lastID,
		Counters:   r.counters,
		Batches:    stats.Batches,
		FailedOps:  stats.FailedOps + stats.SkippedOps,
		StartedAt:  r.started,
		FinishedAt: time.Now().UTC(),
	}
}

func (r *run) logSummary(s *report.Summary) {
	fields := []zap.Field{
		zap.Bool("completed", s.Completed),
		zap.Int64("scanned", s.Counters.Scanned),
		zap.Int64("groups", s.Counters.Groups),
		zap.Int64("merged", s.Counters.Merged),
		zap.Int64("deleted", s.Counters.Deleted),
		zap.Int64("updated", s.Counters.Updated),
		zap.Int64("skipped", s.Counters.Skipped),
		zap.Int64("failed", s.Counters.Failed),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	}
	if s.DryRun {
		r.log.Info("dedup: dry run finished, no changes were written", fields...)
		return
	}
	r.log.Info("dedup: finished", fields...)
}

// phaseStore marks the Committing phase around every commit.
type phaseStore struct {
	store.Store
	d *Driver
}

func (p phaseStore) Commit(ctx context.Context, ops []store.Op) error {
	prev := p.d.phase
	p.d.enter(PhaseCommitting)
	defer p.d.enter(prev)
	return p.Store.Commit(ctx, ops)
}
