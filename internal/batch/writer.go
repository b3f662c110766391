// Package batch accumulates store writes into size-bounded atomic commits.
package batch

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/store"
)

// Unit is a set of ops that belong together, such as one group's primary
// update and its secondary deletes. A unit is never split across batches
// unless it alone exceeds the batch limit.
type Unit struct {
	// Key labels the unit in logs and failure reports.
	Key string
	Ops []store.Op
	// Done, when set, is called once the unit has committed (nil) or failed.
	// In dry-run mode it is called with nil without committing.
	Done func(err error)
}

// Failure describes a unit whose batch could not be committed.
type Failure struct {
	Key string
	IDs []string
	Err error
}

// Options configure a Writer.
type Options struct {
	// MaxOps bounds each commit. Zero or values above the store's own limit
	// use the store's limit.
	MaxOps int
	// DryRun logs intended writes instead of committing them.
	DryRun  bool
	Retry   resilience.RetryConfig
	Limiter *rate.Limiter
	// OnFailure is called for every unit in a failed batch.
	OnFailure func(f Failure)
}

// Stats count what a Writer did.
type Stats struct {
	Batches       int
	Ops           int
	FailedBatches int
	FailedOps     int
	// SkippedOps were not attempted because an earlier chunk of the same
	// oversize unit failed.
	SkippedOps int
	// PlannedOps were logged in dry-run mode.
	PlannedOps int
}

// Writer buffers units and commits them through a store.
type Writer struct {
	st      store.Store
	opts    Options
	maxOps  int
	pending []Unit
	nops    int
	stats   Stats
}

// NewWriter creates a writer over st.
func NewWriter(st store.Store, opts Options) *Writer {
	maxOps := st.MaxBatchOps()
	if opts.MaxOps > 0 && opts.MaxOps < maxOps {
		maxOps = opts.MaxOps
	}
	if maxOps < 1 {
		maxOps = 1
	}
	return &Writer{st: st, opts: opts, maxOps: maxOps}
}

// MaxOps returns the effective batch size.
func (w *Writer) MaxOps() int { return w.maxOps }

// Pending returns the number of buffered ops.
func (w *Writer) Pending() int { return w.nops }

// Stats returns counters so far.
func (w *Writer) Stats() Stats { return w.stats }

// Add queues a unit, committing the buffer first if the unit would not fit.
// Commit failures are reported and swallowed; the returned error is non-nil
// only when ctx is done.
func (w *Writer) Add(ctx context.Context, u Unit) error {
	if len(u.Ops) == 0 {
		if u.Done != nil {
			u.Done(nil)
		}
		return nil
	}

	if w.opts.DryRun {
		w.plan(u)
		return nil
	}

	if w.nops+len(u.Ops) > w.maxOps {
		if err := w.Flush(ctx); err != nil {
			return err
		}
	}
	if len(u.Ops) > w.maxOps {
		return w.commitOversize(ctx, u)
	}

	w.pending = append(w.pending, u)
	w.nops += len(u.Ops)
	if w.nops >= w.maxOps {
		return w.Flush(ctx)
	}
	return nil
}

// Flush commits buffered units as one batch.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	units := w.pending
	w.pending = nil
	w.nops = 0

	var ops []store.Op
	for _, u := range units {
		ops = append(ops, u.Ops...)
	}

	err := w.commit(ctx, ops)
	if err != nil && ctx.Err() != nil {
		// Interrupted, not rejected: keep the units for a flush under a
		// fresh context.
		w.pending = units
		w.nops = len(ops)
		return ctxErr(ctx)
	}
	if err != nil {
		w.stats.FailedBatches++
		w.stats.FailedOps += len(ops)
	}
	for _, u := range units {
		if err != nil {
			w.fail(u, u.Ops, err)
		}
		if u.Done != nil {
			u.Done(err)
		}
	}
	return ctxErr(ctx)
}

// commitOversize splits a unit that exceeds the batch limit. Non-delete ops go
// first so a primary is updated before its secondaries disappear; once a
// chunk fails, later chunks are skipped.
func (w *Writer) commitOversize(ctx context.Context, u Unit) error {
	ordered := make([]store.Op, 0, len(u.Ops))
	for _, op := range u.Ops {
		if op.Kind != store.OpDelete {
			ordered = append(ordered, op)
		}
	}
	for _, op := range u.Ops {
		if op.Kind == store.OpDelete {
			ordered = append(ordered, op)
		}
	}

	zap.L().Warn("batch: unit exceeds batch limit, committing in chunks",
		zap.String("key", u.Key),
		zap.Int("ops", len(ordered)),
		zap.Int("max_ops", w.maxOps),
	)

	var err error
	for start := 0; start < len(ordered); start += w.maxOps {
		end := min(start+w.maxOps, len(ordered))
		chunk := ordered[start:end]
		if err != nil {
			w.stats.SkippedOps += len(chunk)
			continue
		}
		if err = w.commit(ctx, chunk); err != nil {
			w.stats.FailedBatches++
			w.stats.FailedOps += len(chunk)
			w.fail(u, ordered[start:], err)
		}
	}
	if u.Done != nil {
		u.Done(err)
	}
	return ctxErr(ctx)
}

// commit writes one batch. Failures are counted by the caller once it knows
// the ops are dropped rather than kept for a later flush.
func (w *Writer) commit(ctx context.Context, ops []store.Op) error {
	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "batch: rate limiter")
		}
	}

	err := resilience.Do(ctx, w.opts.Retry.WithLogging("batch", "commit"), func(ctx context.Context) error {
		return w.st.Commit(ctx, ops)
	})
	if err != nil {
		zap.L().Error("batch: commit failed",
			zap.Int("ops", len(ops)),
			zap.Strings("ids", store.IDs(ops)),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		return eris.Wrap(err, "batch: commit")
	}

	w.stats.Batches++
	w.stats.Ops += len(ops)
	zap.L().Debug("batch: committed", zap.Int("ops", len(ops)))
	return nil
}

func (w *Writer) fail(u Unit, ops []store.Op, err error) {
	if w.opts.OnFailure != nil {
		w.opts.OnFailure(Failure{Key: u.Key, IDs: store.IDs(ops), Err: err})
	}
}

func (w *Writer) plan(u Unit) {
	for _, op := range u.Ops {
		fields := make([]string, 0, len(op.Fields))
		for k := range op.Fields {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		zap.L().Info("batch: dry run, would write",
			zap.String("key", u.Key),
			zap.Stringer("op", op.Kind),
			zap.String("id", op.ID),
			zap.Strings("fields", fields),
		)
	}
	w.stats.PlannedOps += len(u.Ops)
	if u.Done != nil {
		u.Done(nil)
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "batch: context done")
	}
	return nil
}
