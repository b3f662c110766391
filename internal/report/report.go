// Package report writes per-decision audit entries and run summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/checkpoint"
)

// Action is what happened (or would happen) to a record or group.
type Action string

// Report actions.
const (
	ActionMerge       Action = "merge"
	ActionClean       Action = "clean"
	ActionBackfill    Action = "backfill"
	ActionImport      Action = "import"
	ActionSkip        Action = "skip"
	ActionFailedBatch Action = "failed_batch"
)

// Output formats.
const (
	FormatJSONL = "jsonl"
	FormatText  = "text"
)

// Entry is one audit line.
type Entry struct {
	Time       time.Time `json:"time"`
	Job        string    `json:"job"`
	Action     Action    `json:"action"`
	Key        string    `json:"key,omitempty"`
	PrimaryID  string    `json:"primary_id,omitempty"`
	DeletedIDs []string  `json:"deleted_ids,omitempty"`
	Fields     []string  `json:"fields,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	DryRun     bool      `json:"dry_run"`
}

// Summary closes a report.
type Summary struct {
	Job        string              `json:"job"`
	DryRun     bool                `json:"dry_run"`
	Completed  bool                `json:"completed"`
	Resumed    bool                `json:"resumed"`
	LastID     string              `json:"last_id,omitempty"`
	Counters   checkpoint.Counters `json:"counters"`
	Batches    int                 `json:"batches"`
	FailedOps  int                 `json:"failed_ops"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Sink receives report entries.
type Sink interface {
	Write(e Entry) error
	Summary(s Summary) error
	Close() error
}

// Open creates a timestamped report file for job under dir.
func Open(dir, job, format string) (Sink, string, error) {
	ext := ".jsonl"
	switch format {
	case FormatJSONL, "":
		format = FormatJSONL
	case FormatText:
		ext = ".txt"
	default:
		return nil, "", eris.Errorf("report: unknown format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", eris.Wrapf(err, "report: create dir %s", dir)
	}
	name := fmt.Sprintf("%s-%s%s", job, time.Now().UTC().Format("20060102T150405Z"), ext)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "report: create %s", path)
	}
	if format == FormatText {
		return NewText(f), path, nil
	}
	return NewJSONL(f), path, nil
}

// JSONL writes one JSON object per line. The summary is the last line, with
// "action":"summary".
type JSONL struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONL writes to w. If w is an io.Closer, Close closes it.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w, enc: json.NewEncoder(w)}
}

func (j *JSONL) Write(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return eris.Wrap(j.enc.Encode(e), "report: write entry")
}

func (j *JSONL) Summary(s Summary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	line := struct {
		Action string `json:"action"`
		Summary
	}{Action: "summary", Summary: s}
	return eris.Wrap(j.enc.Encode(line), "report: write summary")
}

func (j *JSONL) Close() error {
	return closeWriter(j.w)
}

// Text writes human-readable lines and a tabular summary.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText writes to w. If w is an io.Closer, Close closes it.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Write(e Entry) error {
	var b strings.Builder
	if e.DryRun {
		b.WriteString("[dry-run] ")
	}
	b.WriteString(string(e.Action))
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	if e.PrimaryID != "" {
		fmt.Fprintf(&b, " primary=%s", e.PrimaryID)
	}
	if len(e.DeletedIDs) > 0 {
		fmt.Fprintf(&b, " delete=%s", strings.Join(e.DeletedIDs, ","))
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " fields=%s", strings.Join(e.Fields, ","))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", e.Reason)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	b.WriteByte('\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, b.String())
	return eris.Wrap(err, "report: write entry")
}

func (t *Text) Summary(s Summary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return eris.Wrap(WriteSummary(t.w, s), "report: write summary")
}

func (t *Text) Close() error {
	return closeWriter(t.w)
}

// WriteSummary renders s as an aligned table.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\t%s\n", s.Job)
	if s.DryRun {
		fmt.Fprintf(tw, "MODE\tdry run (no changes were written)\n")
	}
	status := "stopped early"
	if s.Completed {
		status = "completed"
	}
	fmt.Fprintf(tw, "STATUS\t%s\n", status)
	if s.LastID != "" {
		fmt.Fprintf(tw, "LAST ID\t%s\n", s.LastID)
	}
	c := s.Counters
	fmt.Fprintf(tw, "SCANNED\t%d\n", c.Scanned)
	fmt.Fprintf(tw, "GROUPS\t%d\n", c.Groups)
	fmt.Fprintf(tw, "MERGED\t%d\n", c.Merged)
	fmt.Fprintf(tw, "DELETED\t%d\n", c.Deleted)
	fmt.Fprintf(tw, "UPDATED\t%d\n", c.Updated)
	fmt.Fprintf(tw, "SKIPPED\t%d\n", c.Skipped)
	fmt.Fprintf(tw, "FAILED\t%d\n", c.Failed)
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(tw, "ELAPSED\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func closeWriter(w io.Writer) error {
	if c, ok := w.(io.Closer); ok {
		return eris.Wrap(c.Close(), "report: close")
	}
	return nil
}

// Discard drops everything.
type Discard struct{}

func (Discard) Write(Entry) error     { return nil }
func (Discard) Summary(Summary) error { return nil }
func (Discard) Close() error          { return nil }

// Memory keeps entries for inspection in tests.
type Memory struct {
	mu      sync.Mutex
	Entries []Entry
	Final   *Summary
}

func (m *Memory) Write(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *Memory) Summary(s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Final = &s
	return nil
}

func (m *Memory) Close() error { return nil }

// Count returns the number of entries with the given action.
func (m *Memory) Count(a Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Entries {
		if e.Action == a {
			n++
		}
	}
	return n
}
