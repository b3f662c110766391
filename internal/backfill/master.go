package backfill

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/fetcher"
	"github.com/sells-group/companydb/internal/resolve"
)

// Column positions in the NTA corporate number master CSV.
const (
	colCorporateNumber = 1
	colName            = 6
	colPrefecture      = 9
	colCity            = 10
	colStreet          = 11
	minColumns         = 12
)

// Candidate is one corporation from the master file.
type Candidate struct {
	CorporateNumber string
	Name            string
	Prefecture      string
	// Address is the city and street part, without the prefecture.
	Address string
}

// FullAddress joins prefecture and address.
func (c Candidate) FullAddress() string {
	return c.Prefecture + c.Address
}

// Index maps normalized names to master candidates.
type Index map[string][]Candidate

// Len returns the number of candidates held.
func (ix Index) Len() int {
	n := 0
	for _, cs := range ix {
		n += len(cs)
	}
	return n
}

// LoadMaster streams the master CSV and keeps the rows whose normalized name
// is in want. Rows with fewer columns or an invalid corporate number are
// skipped. A corporate number seen twice (the NTA diff files repeat changed
// corporations) keeps its last row.
func LoadMaster(ctx context.Context, r io.Reader, encoding string, want map[string]bool) (Index, int, error) {
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Encoding:   encoding,
		LazyQuotes: true,
	})

	ix := make(Index)
	pos := make(map[string]int)
	rows := 0
	for row := range rowCh {
		rows++
		if len(row) < minColumns {
			continue
		}
		name := resolve.NormalizeName(row[colName])
		if name == "" || !want[name] {
			continue
		}
		cn := company.NormalizeCorporateNumber(row[colCorporateNumber])
		if cn == "" {
			continue
		}
		c := Candidate{
			CorporateNumber: cn,
			Name:            row[colName],
			Prefecture:      row[colPrefecture],
			Address:         row[colCity] + row[colStreet],
		}
		if i, ok := pos[cn]; ok {
			ix[name][i] = c
			continue
		}
		pos[cn] = len(ix[name])
		ix[name] = append(ix[name], c)
	}
	for err := range errCh {
		if err != nil {
			return nil, rows, eris.Wrap(err, "backfill: read master")
		}
	}
	return ix, rows, nil
}
