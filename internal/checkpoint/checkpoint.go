// Package checkpoint persists resumable cursors for long-running jobs: the
// last processed record ID plus running counters.
package checkpoint

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Counters are running totals carried across resumes.
type Counters struct {
	Scanned int64 `json:"scanned"`
	Groups  int64 `json:"groups"`
	Merged  int64 `json:"merged"`
	Deleted int64 `json:"deleted"`
	Updated int64 `json:"updated"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Scanned += o.Scanned
	c.Groups += o.Groups
	c.Merged += o.Merged
	c.Deleted += o.Deleted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Failed += o.Failed
}

// Cursor is a resume point.
type Cursor struct {
	LastID    string    `json:"last_id"`
	Counters  Counters  `json:"counters"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves cursors by job name.
type Store interface {
	// Load returns the saved cursor, or nil when none exists.
	Load(ctx context.Context, job string) (*Cursor, error)
	Save(ctx context.Context, job string, c Cursor) error
	// Clear removes the cursor. Clearing a missing cursor is not an error.
	Clear(ctx context.Context, job string) error
}

func validateJob(job string) error {
	if job == "" || strings.ContainsAny(job, `/\`) || strings.HasPrefix(job, ".") {
		return eris.Errorf("checkpoint: invalid job name %q", job)
	}
	return nil
}

// Memory keeps cursors in process memory.
type Memory struct {
	mu      sync.Mutex
	cursors map[string]Cursor
	saves   int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cursors: make(map[string]Cursor)}
}

func (m *Memory) Load(_ context.Context, job string) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[job]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) Save(_ context.Context, job string, c Cursor) error {
	if err := validateJob(job); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[job] = c
	m.saves++
	return nil
}

func (m *Memory) Clear(_ context.Context, job string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, job)
	return nil
}

// Saves returns the number of Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
