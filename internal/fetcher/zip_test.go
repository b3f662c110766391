package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestOpenZIPCSV(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"13_tokyo_all_20240430.csv": "a,b\n",
		"readme.pdf":                "%PDF",
		"docs/":                     "",
	})
	rc, err := OpenZIPCSV(zipPath)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n", string(data))
}

func TestOpenZIPCSV_NoCSV(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"readme.txt": "x"})
	_, err := OpenZIPCSV(zipPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 csv file, got 0")
}

func TestOpenZIPCSV_Multiple(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"a.csv": "1", "b.CSV": "2"})
	_, err := OpenZIPCSV(zipPath)
	assert.Error(t, err)
}

func TestOpenZIPCSV_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := OpenZIPCSV(path)
	assert.Error(t, err)
}
