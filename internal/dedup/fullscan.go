package dedup

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/sweep"
)

type bucket struct {
	key     string
	anchor  string
	members []company.Record
}

// fullScan buckets the whole range by key, then evaluates multi-member groups
// in anchor order. The checkpoint is the last evaluated anchor; a resumed run
// rescans and skips anchors at or before it.
func (r *run) fullScan(ctx context.Context) (outcome, error) {
	var res outcome
	after := ""
	if r.opts.Resume && !r.opts.DryRun && r.d.Checkpoints != nil {
		cur, err := r.d.Checkpoints.Load(ctx, r.opts.Job)
		if err != nil {
			return res, err
		}
		if cur != nil {
			after = cur.LastID
			r.counters = cur.Counters
			r.counters.Scanned = 0
			res.resumed = true
			res.lastID = cur.LastID
			r.log.Info("dedup: resuming after anchor", zap.String("anchor", after))
		}
	}

	r.d.enter(PhaseScanning)
	byKey := make(map[string]*bucket)
	var order []*bucket
	sw := &sweep.Sweeper{Store: r.d.Store, Counters: &r.counters}
	_, err := sw.Run(ctx, sweep.Options{
		PageSize:   r.opts.PageSize,
		StartAfter: r.opts.StartAfter,
		EndBefore:  r.opts.EndBefore,
		Retry:      r.opts.Retry,
	}, func(_ context.Context, rec company.Record) error {
		key := r.d.Normalizer.Key(rec).String()
		if key == "" {
			r.counters.Skipped++
			return nil
		}
		b, ok := byKey[key]
		if !ok {
			b = &bucket{key: key, anchor: rec.ID}
			byKey[key] = b
			order = append(order, b)
		}
		b.members = append(b.members, rec)
		return nil
	})
	if err != nil {
		return res, err
	}

	// Buckets were opened in ID order, so they are already sorted by anchor;
	// sort anyway in case a store pages out of order.
	sort.SliceStable(order, func(i, j int) bool { return order[i].anchor < order[j].anchor })

	var groups []*bucket
	for _, b := range order {
		if len(b.members) > 1 && b.anchor > after {
			groups = append(groups, b)
		}
	}
	r.log.Info("dedup: scan complete",
		zap.Int64("scanned", r.counters.Scanned),
		zap.Int("keys", len(order)),
		zap.Int("groups", len(groups)),
	)

	evaluated := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return res, r.interrupt(ctx, res.lastID, err)
		}
		if r.opts.Limit > 0 && evaluated >= r.opts.Limit {
			r.log.Info("dedup: limit reached", zap.Int("limit", r.opts.Limit))
			return res, r.save(ctx, res.lastID)
		}

		if err := r.evaluate(ctx, g.key, g.members); err != nil {
			if ctx.Err() != nil {
				// This group may not have been queued; it is evaluated
				// again on resume.
				return res, r.interrupt(ctx, res.lastID, err)
			}
			return res, err
		}
		evaluated++
		res.lastID = g.anchor

		if r.opts.CheckpointEvery > 0 && evaluated%r.opts.CheckpointEvery == 0 {
			if err := r.save(ctx, res.lastID); err != nil {
				return res, err
			}
			r.log.Info("dedup: progress",
				zap.Int("evaluated", evaluated),
				zap.String("anchor", res.lastID),
				zap.Int64("merged", r.counters.Merged),
				zap.Int64("deleted", r.counters.Deleted),
			)
		}
	}

	if err := r.writer.Flush(ctx); err != nil {
		return res, r.interrupt(ctx, res.lastID, err)
	}
	res.completed = true
	return res, sweep.Clear(ctx, r.d.Checkpoints, r.opts.Job, r.opts.DryRun)
}

// interrupt flushes pending writes and saves lastID under a context that
// ignores the cancellation, then returns cause.
func (r *run) interrupt(ctx context.Context, lastID string, cause error) error {
	r.log.Warn("dedup: interrupted, saving checkpoint", zap.String("last_id", lastID), zap.Error(cause))
	if lastID == "" {
		return errors.Join(cause, r.writer.Flush(context.WithoutCancel(ctx)))
	}
	if err := r.save(context.WithoutCancel(ctx), lastID); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
