// Package fetcher opens reference data sources (local CSV files, ZIP archives
// and HTTP downloads) and streams CSV rows out of them.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Open returns a reader over the CSV content of src. src may be a local CSV
// file, a local ZIP archive holding one CSV file, or an http(s) URL to either;
// URLs are downloaded to tmpDir first because ZIP needs random access.
func Open(ctx context.Context, f Fetcher, src, tmpDir string) (io.ReadCloser, error) {
	path := src
	var cleanup func()
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if f == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", src)
		}
		tmp, err := os.CreateTemp(tmpDir, "download-*"+filepath.Ext(urlPath(src)))
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create temp file")
		}
		_ = tmp.Close()
		path = tmp.Name()
		cleanup = func() { _ = os.Remove(path) }
		if _, err := f.DownloadToFile(ctx, src, path); err != nil {
			cleanup()
			return nil, err
		}
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		rc, err = OpenZIPCSV(path)
	} else {
		rc, err = os.Open(path)
		err = eris.Wrapf(err, "fetcher: open %s", path)
	}
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}
	if cleanup == nil {
		return rc, nil
	}
	return &cleanupCloser{ReadCloser: rc, cleanup: cleanup}, nil
}

func urlPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

type cleanupCloser struct {
	io.ReadCloser
	cleanup func()
}

func (c *cleanupCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cleanup()
	return err
}
