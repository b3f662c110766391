package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileStore keeps one file per job under Dir. Each file holds the last ID on
// the first line and the counters as JSON on the second.
type FileStore struct {
	Dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the checkpoint file for job.
func (f *FileStore) Path(job string) string {
	return filepath.Join(f.Dir, job+".checkpoint")
}

func (f *FileStore) Load(_ context.Context, job string) (*Cursor, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	path := f.Path(job)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "checkpoint: read %s", path)
	}

	lastID, rest, _ := strings.Cut(string(data), "\n")
	c := &Cursor{LastID: lastID}
	if rest = strings.TrimSpace(rest); rest != "" {
		if err := json.Unmarshal([]byte(rest), &c.Counters); err != nil {
			return nil, eris.Wrapf(err, "checkpoint: parse counters in %s", path)
		}
	}
	if info, err := os.Stat(path); err == nil {
		c.UpdatedAt = info.ModTime().UTC()
	}
	return c, nil
}

// Save writes the cursor to a temp file and renames it into place, so a crash
// leaves either the old or the new checkpoint.
func (f *FileStore) Save(_ context.Context, job string, c Cursor) error {
	if err := validateJob(job); err != nil {
		return err
	}
	if strings.ContainsAny(c.LastID, "\r\n") {
		return eris.Errorf("checkpoint: last id %q contains a newline", c.LastID)
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: create dir %s", f.Dir)
	}

	counters, err := json.Marshal(c.Counters)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal counters")
	}

	tmp, err := os.CreateTemp(f.Dir, job+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.WriteString(c.LastID + "\n" + string(counters) + "\n"); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), f.Path(job)), "checkpoint: rename into %s", f.Path(job))
}

func (f *FileStore) Clear(_ context.Context, job string) error {
	if err := validateJob(job); err != nil {
		return err
	}
	err := os.Remove(f.Path(job))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: remove %s", f.Path(job))
	}
	return nil
}
