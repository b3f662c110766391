package dedup

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/sweep"
)

// incremental walks records in ID order and, for each, queries the store for
// the records sharing its key. The group is evaluated only when the current
// record is its anchor (smallest ID), so every group is handled once even
// across shard ranges. Candidates are found through the derived lookup key
// (corporate_number_key or name_key), which the store writes alongside every
// name or corporate number change; records stored before the keys existed
// need one clean pass with the lookup_keys rule.
func (r *run) incremental(ctx context.Context) (outcome, error) {
	var res outcome
	var staleWarned bool
	retry := r.opts.Retry.WithLogging("dedup", "find")

	sw := &sweep.Sweeper{
		Store:       r.d.Store,
		Checkpoints: r.d.Checkpoints,
		Flusher:     r.writer,
		Counters:    &r.counters,
	}
	r.d.enter(PhaseScanning)
	sres, err := sw.Run(ctx, sweep.Options{
		Job:             r.opts.Job,
		PageSize:        r.opts.PageSize,
		StartAfter:      r.opts.StartAfter,
		EndBefore:       r.opts.EndBefore,
		Limit:           r.opts.Limit,
		CheckpointEvery: r.opts.CheckpointEvery,
		Resume:          r.opts.Resume,
		DryRun:          r.opts.DryRun,
		Retry:           r.opts.Retry,
	}, func(ctx context.Context, rec company.Record) error {
		defer r.d.enter(PhaseScanning)

		key := r.d.Normalizer.Key(rec).String()
		if key == "" {
			r.counters.Skipped++
			return nil
		}
		field, value, _ := r.d.Normalizer.LookupField(rec)
		if stored, _ := company.AsString(rec.Get(field)); stored != value && !staleWarned {
			staleWarned = true
			r.log.Warn("dedup: stored lookup key is stale, run clean --rules lookup_keys",
				zap.String("id", rec.ID),
				zap.String("field", field),
				zap.String("stored", stored),
				zap.String("want", value),
			)
		}

		r.d.enter(PhaseEvaluating)
		candidates, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]company.Record, error) {
			return r.d.Store.FindByField(ctx, field, value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.counters.Failed++
			r.log.Error("dedup: group lookup failed, skipping",
				zap.String("id", rec.ID),
				zap.String("key", key),
				zap.Error(err),
			)
			r.write(report.Entry{Action: report.ActionSkip, Key: key, PrimaryID: rec.ID, Reason: "lookup failed", Error: err.Error()})
			return nil
		}

		group := []company.Record{rec}
		anchor := rec.ID
		for _, c := range candidates {
			if c.ID == rec.ID || r.d.Normalizer.Key(c).String() != key {
				continue
			}
			group = append(group, c)
			if c.ID < anchor {
				anchor = c.ID
			}
		}
		if len(group) < 2 || anchor != rec.ID {
			return nil
		}
		return r.evaluate(ctx, key, group)
	})
	if sres != nil {
		res.lastID = sres.LastID
		res.completed = sres.Completed
		res.resumed = sres.Resumed
	}
	return res, err
}
