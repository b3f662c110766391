package fetcher

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// OpenZIPCSV opens the CSV file inside a ZIP archive without extracting it.
// The archive must hold exactly one .csv entry; other entries (such as the
// PDF readme the NTA bundles) are ignored.
func OpenZIPCSV(zipPath string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var csvs []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() && strings.EqualFold(pathExt(f.Name), ".csv") {
			csvs = append(csvs, f)
		}
	}
	if len(csvs) != 1 {
		_ = r.Close()
		return nil, eris.Errorf("zip: expected exactly 1 csv file, got %d", len(csvs))
	}

	rc, err := csvs[0].Open()
	if err != nil {
		_ = r.Close()
		return nil, eris.Wrap(err, "zip: open entry")
	}
	return &zipEntry{ReadCloser: rc, archive: r}, nil
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

type zipEntry struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntry) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return eris.Wrap(err, "zip: close")
}
