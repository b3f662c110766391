package backfill

import (
	"strings"

	"github.com/sells-group/companydb/internal/company"
	"github.com/sells-group/companydb/internal/resolve"
)

// DefaultMinAddressSimilarity is the address similarity below which a
// multi-candidate match is rejected.
const DefaultMinAddressSimilarity = 0.3

// Outcome is the result of matching one record.
type Outcome string

// Match outcomes.
const (
	OutcomeMatched       Outcome = "matched"
	OutcomeNoCandidate   Outcome = "no_candidate"
	OutcomeAmbiguous     Outcome = "ambiguous_no_address"
	OutcomeLowSimilarity Outcome = "low_similarity"
)

// Match picks the master candidate for r. One candidate is adopted as is.
// Several are first narrowed by prefecture; if that leaves exactly one it is
// adopted. Otherwise the record needs an address, and the candidate with the
// highest address similarity wins (first one on ties) when it reaches
// minSimilarity.
func Match(r company.Record, cands []Candidate, minSimilarity float64) (Candidate, Outcome, float64) {
	switch len(cands) {
	case 0:
		return Candidate{}, OutcomeNoCandidate, 0
	case 1:
		return cands[0], OutcomeMatched, 1
	}

	if pref := resolve.NormalizePrefecture(r.Text(company.FieldPrefecture)); pref != "" {
		var same []Candidate
		for _, c := range cands {
			if resolve.NormalizePrefecture(c.Prefecture) == pref {
				same = append(same, c)
			}
		}
		switch {
		case len(same) == 1:
			return same[0], OutcomeMatched, 1
		case len(same) > 1:
			cands = same
		}
	}

	addr := recordAddress(r)
	if addr == "" {
		return Candidate{}, OutcomeAmbiguous, 0
	}

	best, bestScore := -1, -1.0
	for i, c := range cands {
		if score := resolve.Similarity(addr, resolve.NormalizeAddress(c.FullAddress())); score > bestScore {
			best, bestScore = i, score
		}
	}
	if bestScore < minSimilarity {
		return Candidate{}, OutcomeLowSimilarity, bestScore
	}
	return cands[best], OutcomeMatched, bestScore
}

// recordAddress is the record's normalized address, prefixed with its
// prefecture when the address does not already start with it.
func recordAddress(r company.Record) string {
	addr := r.Text(company.FieldAddress)
	if addr == "" {
		addr = r.Text(company.FieldHeadquartersAddress)
	}
	if addr == "" {
		return ""
	}
	if pref := r.Text(company.FieldPrefecture); pref != "" && !strings.HasPrefix(addr, pref) {
		addr = pref + addr
	}
	return resolve.NormalizeAddress(addr)
}

// Changes returns the fields to write when c is adopted for r: the corporate
// number, plus address and prefecture when r lacks them.
func Changes(r company.Record, c Candidate) map[string]any {
	out := map[string]any{company.FieldCorporateNumber: c.CorporateNumber}
	if !r.Has(company.FieldAddress) && c.Address != "" {
		out[company.FieldAddress] = c.FullAddress()
	}
	if !r.Has(company.FieldPrefecture) && c.Prefecture != "" {
		out[company.FieldPrefecture] = c.Prefecture
	}
	return out
}
