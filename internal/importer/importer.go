// Package importer loads company rows from a CSV file into the store.
//
// The header row names schema fields directly. A row becomes one record whose
// ID is its corporate number when that number is valid and not yet used as an
// ID, and a random UUID otherwise.
package importer

import (
	"context"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/sells-group/companydb/internal/batch"
	"github.com/sells-group/companydb/internal/checkpoint"
	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/fetcher"
	"github.com/sells-group/companydb/internal/report"
	"github.com/sells-group/companydb/internal/resilience"
	"github.com/sells-group/companydb/internal/store"
)

// DefaultJob names import runs in reports.
const DefaultJob = "import"

// ArraySeparator splits array-kind cells.
const ArraySeparator = "|"

// Options control an import run.
type Options struct {
	Job string
	// Input is a path or URL to the CSV, or a ZIP holding it.
	Input    string
	Encoding string
	// Source, when set, fills the source field of rows that lack one.
	Source    string
	TmpDir    string
	BatchSize int
	DryRun    bool
	Retry     resilience.RetryConfig
	Limiter   *rate.Limiter
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

// Importer writes CSV rows as new records.
type Importer struct {
	Store   store.Store
	Report  report.Sink
	Fetcher fetcher.Fetcher
	// Schema validates the header; nil uses the embedded schema.
	Schema *company.Schema
}

// Run imports every row of opts.Input. Rows are committed in batches; a
// failed batch is reported and the import continues.
func (im *Importer) Run(ctx context.Context, opts Options) (*report.Summary, error) {
	if im.Store == nil {
		return nil, eris.New("importer: no store")
	}
	if opts.Input == "" {
		return nil, eris.New("importer: input file is required")
	}
	if im.Report == nil {
		im.Report = report.Discard{}
	}
	if im.Schema == nil {
		im.Schema = company.DefaultSchema()
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	log := zap.L().With(zap.String("job", opts.Job), zap.Bool("dry_run", opts.DryRun))
	started := time.Now().UTC()

	src, err := fetcher.Open(ctx, im.Fetcher, opts.Input, opts.TmpDir)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	var counters checkpoint.Counters
	write := func(e report.Entry) {
		e.Job = opts.Job
		e.DryRun = opts.DryRun
		if err := im.Report.Write(e); err != nil {
			log.Warn("importer: write report entry", zap.Error(err))
		}
	}
	w := batch.NewWriter(im.Store, batch.Options{
		MaxOps:  opts.BatchSize,
		DryRun:  opts.DryRun,
		Retry:   opts.Retry,
		Limiter: opts.Limiter,
		OnFailure: func(f batch.Failure) {
			write(report.Entry{Action: report.ActionFailedBatch, Key: f.Key, DeletedIDs: f.IDs, Error: f.Err.Error()})
		},
	})

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("importing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				_, _ = io.WriteString(opts.Progress, "\n")
			}),
		)
	}

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, src, fetcher.CSVOptions{
		Encoding:  opts.Encoding,
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var (
		cols    []column
		usedIDs = make(map[string]bool)
		line    = 1
		runErr  error
	)
	for row := range rowCh {
		line++
		if cols == nil {
			if cols, runErr = im.columns(<-headerCh); runErr != nil {
				break
			}
		}
		counters.Scanned++
		if bar != nil {
			_ = bar.Add(1)
		}

		fields, warnings := parseRow(cols, row)
		for _, msg := range warnings {
			log.Warn("importer: dropped cell", zap.Int("line", line), zap.String("reason", msg))
		}
		if len(fields) == 0 {
			counters.Skipped++
			write(report.Entry{Action: report.ActionSkip, Reason: "empty row at line " + strconv.Itoa(line)})
			continue
		}
		if opts.Source != "" && !company.NewRecord("", fields).Has(company.FieldSource) {
			fields[company.FieldSource] = opts.Source
		}

		id, err := im.assignID(ctx, opts.Retry, fields, usedIDs)
		if err != nil {
			runErr = err
			break
		}
		names := make([]string, 0, len(fields))
		for k := range fields {
			names = append(names, k)
		}
		sort.Strings(names)

		if runErr = w.Add(ctx, batch.Unit{
			Key: id,
			Ops: []store.Op{store.Set(id, fields)},
			Done: func(err error) {
				if err != nil {
					counters.Failed++
					return
				}
				counters.Updated++
				write(report.Entry{Action: report.ActionImport, PrimaryID: id, Fields: names})
			},
		}); runErr != nil {
			break
		}
	}
	if runErr != nil {
		// Drain so the reader goroutine can exit.
		for range rowCh { //nolint:revive
		}
	}
	for err := range errCh {
		if err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		runErr = w.Flush(ctx)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	stats := w.Stats()
	sum := &report.Summary{
		Job:        opts.Job,
		DryRun:     opts.DryRun,
		Completed:  runErr == nil,
		Counters:   counters,
		Batches:    stats.Batches,
		FailedOps:  stats.FailedOps + stats.SkippedOps,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err := im.Report.Summary(*sum); err != nil {
		log.Warn("importer: write report summary", zap.Error(err))
	}
	msg := "importer: finished"
	if opts.DryRun {
		msg = "importer: dry run finished, no changes were written"
	}
	log.Info(msg,
		zap.Int64("rows", counters.Scanned),
		zap.Int64("imported", counters.Updated),
		zap.Int64("skipped", counters.Skipped),
		zap.Int64("failed", counters.Failed),
	)
	return sum, runErr
}

// assignID returns the corporate number when it is valid and unused, or a
// fresh surrogate.
func (im *Importer) assignID(ctx context.Context, retry resilience.RetryConfig, fields map[string]any, used map[string]bool) (string, error) {
	cn := company.NormalizeCorporateNumber(fields[company.FieldCorporateNumber])
	if cn == "" {
		delete(fields, company.FieldCorporateNumber)
		return uuid.NewString(), nil
	}
	fields[company.FieldCorporateNumber] = cn
	if used[cn] {
		return uuid.NewString(), nil
	}
	exists, err := resilience.DoVal(ctx, retry.WithLogging("importer", "get"), func(ctx context.Context) (bool, error) {
		_, err := im.Store.Get(ctx, cn)
		switch {
		case err == nil:
			return true, nil
		case eris.Is(err, store.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return "", eris.Wrapf(err, "importer: check id %s", cn)
	}
	if exists {
		return uuid.NewString(), nil
	}
	used[cn] = true
	return cn, nil
}

type column struct {
	name string
	kind company.FieldKind
}

// columns resolves the header against the schema. Blank header cells are
// ignored; unknown or repeated names are errors.
func (im *Importer) columns(header []string) ([]column, error) {
	if len(header) == 0 {
		return nil, eris.New("importer: missing header row")
	}
	cols := make([]column, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			continue
		}
		fd, ok := im.Schema.Field(name)
		if !ok {
			return nil, eris.Wrapf(company.ErrUnknownField, "importer: header column %d %q", i+1, name)
		}
		if seen[name] {
			return nil, eris.Errorf("importer: header column %q repeated", name)
		}
		seen[name] = true
		cols[i] = column{name: name, kind: fd.Kind}
	}
	return cols, nil
}

// parseRow converts the cells of one row. Empty cells are omitted. Cells that
// do not parse as their field kind are dropped with a warning.
func parseRow(cols []column, row []string) (map[string]any, []string) {
	fields := make(map[string]any, len(row))
	var warnings []string
	for i, cell := range row {
		if i >= len(cols) || cols[i].name == "" || cell == "" {
			continue
		}
		c := cols[i]
		switch c.kind {
		case company.KindNumber:
			n, ok := parseNumber(cell)
			if !ok {
				warnings = append(warnings, c.name+": not a number: "+cell)
				continue
			}
			fields[c.name] = n
		case company.KindBool:
			b, err := strconv.ParseBool(strings.ToLower(cell))
			if err != nil {
				warnings = append(warnings, c.name+": not a bool: "+cell)
				continue
			}
			fields[c.name] = b
		case company.KindArray:
			var items []any
			for _, part := range strings.Split(cell, ArraySeparator) {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
			if len(items) > 0 {
				fields[c.name] = items
			}
		default:
			fields[c.name] = cell
		}
	}
	return fields, warnings
}

// parseNumber reads integers as int64 and anything else as float64, after
// folding full-width digits and removing thousands separators.
func parseNumber(s string) (any, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(norm.NFKC.String(s)), ",", "")
	if s == "" {
		return nil, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}
