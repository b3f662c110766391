// Package sweep walks a store in ID order one record at a time, with range
// bounds, a record limit, and periodic flush-then-checkpoint so a run can be
// resumed after interruption.
package sweep

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/store"
)

// DefaultPageSize is used when Options.PageSize is not set.
const DefaultPageSize = 500

// Handler processes one record. Returning an error stops the sweep.
type Handler func(ctx context.Context, r company.Record) error

// Flusher commits buffered writes. *batch.Writer satisfies it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Options control a sweep.
type Options struct {
	// Job names the checkpoint. An empty job disables checkpointing.
	Job      string
	PageSize int
	// StartAfter and EndBefore bound the ID range, both exclusive. Empty means
	// unbounded.
	StartAfter string
	EndBefore  string
	// Limit stops the sweep after this many records. Zero means no limit.
	Limit int
	// CheckpointEvery saves a checkpoint after this many pages. Zero saves
	// only when the sweep stops early.
	CheckpointEvery int
	// Resume starts from the saved checkpoint when one exists.
	Resume bool
	// DryRun never reads or writes checkpoints.
	DryRun bool
	Retry  resilience.RetryConfig
}

// Result describes how a sweep ended.
type Result struct {
	// LastID is the last record fully handled.
	LastID  string
	Pages   int
	Scanned int64
	// Resumed is set when the sweep started from a checkpoint.
	Resumed bool
	// Completed is set when the end of the range was reached.
	Completed bool
	// Limited is set when Limit stopped the sweep.
	Limited bool
}

// Sweeper runs sweeps against one store.
type Sweeper struct {
	Store       store.Store
	Checkpoints checkpoint.Store
	Flusher     Flusher
	// Counters are saved with each checkpoint. On resume they are replaced by
	// the saved counters.
	Counters *checkpoint.Counters
}

// Run walks the range and calls handle for every record. On completion the
// checkpoint is cleared. On an early stop (limit, cancellation, or a failed
// page) pending writes are flushed and the checkpoint is saved at the last
// handled record.
func (s *Sweeper) Run(ctx context.Context, opts Options, handle Handler) (*Result, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if s.Counters == nil {
		s.Counters = &checkpoint.Counters{}
	}
	log := zap.L().With(zap.String("job", opts.Job))

	res := &Result{}
	after := opts.StartAfter
	if cur, err := s.load(ctx, opts); err != nil {
		return nil, err
	} else if cur != nil && cur.LastID > after {
		after = cur.LastID
		*s.Counters = cur.Counters
		res.Resumed = true
		res.LastID = cur.LastID
		log.Info("sweep: resuming from checkpoint",
			zap.String("last_id", cur.LastID),
			zap.Int64("scanned", cur.Counters.Scanned),
		)
	}

	retry := opts.Retry.WithLogging("sweep", "scan")
	for {
		if err := ctx.Err(); err != nil {
			return res, s.stop(ctx, opts, res, err)
		}

		page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]company.Record, error) {
			return s.Store.Scan(ctx, after, opts.PageSize)
		})
		if err != nil {
			return res, s.stop(ctx, opts, res, eris.Wrapf(err, "sweep: scan after %q", after))
		}
		res.Pages++

		for _, r := range page {
			if opts.EndBefore != "" && r.ID >= opts.EndBefore {
				return res, s.complete(ctx, opts, res)
			}
			if opts.Limit > 0 && res.Scanned >= int64(opts.Limit) {
				res.Limited = true
				log.Info("sweep: limit reached", zap.Int("limit", opts.Limit))
				return res, s.stop(ctx, opts, res, nil)
			}

			if err := handle(ctx, r); err != nil {
				return res, s.stop(ctx, opts, res, err)
			}
			res.Scanned++
			s.Counters.Scanned++
			res.LastID = r.ID
		}

		if len(page) < opts.PageSize {
			return res, s.complete(ctx, opts, res)
		}
		after = page[len(page)-1].ID

		log.Info("sweep: page done",
			zap.Int("page", res.Pages),
			zap.String("last_id", res.LastID),
			zap.Int64("scanned", s.Counters.Scanned),
		)
		if opts.CheckpointEvery > 0 && res.Pages%opts.CheckpointEvery == 0 {
			if err := s.checkpoint(ctx, opts, res.LastID); err != nil {
				return res, err
			}
		}
	}
}

func (s *Sweeper) load(ctx context.Context, opts Options) (*checkpoint.Cursor, error) {
	if !opts.Resume || opts.DryRun || opts.Job == "" || s.Checkpoints == nil {
		return nil, nil
	}
	cur, err := s.Checkpoints.Load(ctx, opts.Job)
	return cur, eris.Wrap(err, "sweep: load checkpoint")
}

func (s *Sweeper) flush(ctx context.Context) error {
	if s.Flusher == nil {
		return nil
	}
	return s.Flusher.Flush(ctx)
}

// checkpoint flushes pending writes, then records lastID.
func (s *Sweeper) checkpoint(ctx context.Context, opts Options, lastID string) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	return Save(ctx, s.Checkpoints, opts.Job, opts.DryRun, lastID, *s.Counters)
}

func (s *Sweeper) complete(ctx context.Context, opts Options, res *Result) error {
	res.Completed = true
	if err := s.flush(ctx); err != nil {
		return err
	}
	return Clear(ctx, s.Checkpoints, opts.Job, opts.DryRun)
}

// stop handles an early exit. Writes already handed to the flusher are
// committed even when ctx is canceled, so the saved checkpoint never runs
// ahead of the store.
func (s *Sweeper) stop(ctx context.Context, opts Options, res *Result, cause error) error {
	if cause != nil && errors.Is(cause, context.Canceled) {
		zap.L().Warn("sweep: interrupted, saving checkpoint",
			zap.String("job", opts.Job),
			zap.String("last_id", res.LastID),
		)
	}
	bg := context.WithoutCancel(ctx)
	if err := s.flush(bg); err != nil {
		return errors.Join(cause, err)
	}
	if res.LastID != "" {
		if err := Save(bg, s.Checkpoints, opts.Job, opts.DryRun, res.LastID, *s.Counters); err != nil {
			return errors.Join(cause, err)
		}
	}
	return cause
}

// Save writes a checkpoint unless checkpointing is disabled for this run.
func Save(ctx context.Context, cps checkpoint.Store, job string, dryRun bool, lastID string, c checkpoint.Counters) error {
	if cps == nil || job == "" || dryRun {
		return nil
	}
	if err := cps.Save(ctx, job, checkpoint.Cursor{LastID: lastID, Counters: c}); err != nil {
		return eris.Wrap(err, "sweep: save checkpoint")
	}
	zap.L().Debug("sweep: checkpoint saved", zap.String("job", job), zap.String("last_id", lastID))
	return nil
}

// Clear removes a checkpoint unless checkpointing is disabled for this run.
func Clear(ctx context.Context, cps checkpoint.Store, job string, dryRun bool) error {
	if cps == nil || job == "" || dryRun {
		return nil
	}
	return eris.Wrap(cps.Clear(ctx, job), "sweep: clear checkpoint")
}
