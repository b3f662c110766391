package fetcher

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func shiftJIS(t *testing.T, s string) []byte {
	t.Helper()
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(s))
	require.NoError(t, err)
	return out
}

const ntaRow = `1,1234567890123,01,1,2024-04-01,2024-04-01,"テスト株式会社",,301,"東京都","千代田区","丸の内１－１－１",,13,101,1000005` + "\n"

func TestStreamCSV_ShiftJIS(t *testing.T) {
	input := shiftJIS(t, ntaRow)
	rowCh, errCh := StreamCSV(context.Background(), bytes.NewReader(input), CSVOptions{Encoding: EncodingShiftJIS})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1234567890123", rows[0][1])
	assert.Equal(t, "テスト株式会社", rows[0][6])
	assert.Equal(t, "東京都", rows[0][9])
	assert.Equal(t, "丸の内１－１－１", rows[0][11])
}

func TestStreamCSV_UTF8BOM(t *testing.T) {
	input := "\xEF\xBB\xBFname,capital\nアクメ,1000\n"
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "capital"}, <-headerCh)
	assert.Equal(t, [][]string{{"アクメ", "1000"}}, rows)
}

func TestStreamCSV_UnknownEncoding(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a\n"), CSVOptions{Encoding: "ebcdic"})
	_, err := collectRows(t, rowCh, errCh)
	assert.Error(t, err)
}

func TestStreamCSV_TrimSpaceAndComment(t *testing.T) {
	input := "# exported\n a , b \n 1 , 2 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
		Comment:   '#',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "a,b,c\n1,2\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 2)
}

func TestStreamCSV_Cancelled(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count == 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}
	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	// The goroutine may finish before it sees the cancellation.
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
	assert.Less(t, count, 10000)
}

func TestNewReader_PassThrough(t *testing.T) {
	r, err := NewReader(strings.NewReader("abc"), "UTF-8")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}

func TestNewReader_EUCJP(t *testing.T) {
	enc, _, err := transform.Bytes(japanese.EUCJP.NewEncoder(), []byte("株式会社テスト"))
	require.NoError(t, err)
	r, err := NewReader(bytes.NewReader(enc), "EUC-JP")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "株式会社テスト", string(b))
}
