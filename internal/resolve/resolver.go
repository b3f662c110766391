package resolve

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
)

// ErrEmptyGroup is returned when Resolve is called without records.
var ErrEmptyGroup = eris.New("resolve: empty group")

// Decision is the outcome of resolving one duplicate group. Resolve never
// writes anything; the caller applies Updates to PrimaryID and deletes
// DeleteIDs.
type Decision struct {
	Key       string
	PrimaryID string
	DeleteIDs []string
	// KeptIDs are secondaries holding fields that could not be read, so
	// deleting them would lose data. They are neither merged nor deleted.
	KeptIDs []string
	// Dropped maps each kept ID to its unreadable field names.
	Dropped map[string][]string
	// Updates holds the fields copied onto the primary from secondaries.
	Updates map[string]any
	// Fields is the primary's full field set after the merge.
	Fields map[string]any
	Scores map[string]int
}

// NoOp reports whether the decision changes nothing. Kept secondaries change
// nothing.
func (d Decision) NoOp() bool {
	return len(d.DeleteIDs) == 0 && len(d.Updates) == 0
}

// MergedFields returns the names of merged fields in sorted order.
func (d Decision) MergedFields() []string {
	names := make([]string, 0, len(d.Updates))
	for k := range d.Updates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ResolverOptions configures primary selection.
type ResolverOptions struct {
	// AuthoritativeSources ranks values of the source field, most trusted
	// first. Used only to break score ties.
	AuthoritativeSources []string
}

// Resolver picks a primary record for a duplicate group and merges the rest
// into it.
type Resolver struct {
	sourceRank map[string]int
}

// NewResolver creates a resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	rank := make(map[string]int, len(opts.AuthoritativeSources))
	for i, s := range opts.AuthoritativeSources {
		if _, dup := rank[s]; !dup {
			rank[s] = i
		}
	}
	return &Resolver{sourceRank: rank}
}

// Resolve selects the primary of group and computes the merge. The primary is
// the record with the most populated fields; ties go to the most authoritative
// source, then to an ID that is itself a corporate number, then to the
// smallest ID. Fields empty on the primary are filled from secondaries in
// input order, first value wins. Populated primary fields are never changed.
//
// Secondaries that carry dropped fields are kept as they are. Records repeated
// by ID are considered once. A group of one yields a no-op decision.
func (r *Resolver) Resolve(group []company.Record) (Decision, error) {
	if len(group) == 0 {
		return Decision{}, ErrEmptyGroup
	}

	members := make([]company.Record, 0, len(group))
	seen := make(map[string]bool, len(group))
	for _, rec := range group {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		members = append(members, rec)
	}

	scores := make(map[string]int, len(members))
	for _, rec := range members {
		scores[rec.ID] = rec.Score()
	}

	primary := 0
	for i := 1; i < len(members); i++ {
		if r.better(members[i], members[primary], scores) {
			primary = i
		}
	}
	p := members[primary]

	d := Decision{
		PrimaryID: p.ID,
		Updates:   make(map[string]any),
		Scores:    scores,
	}
	for i, sec := range members {
		if i == primary {
			continue
		}
		if len(sec.Dropped) > 0 {
			if d.Dropped == nil {
				d.Dropped = make(map[string][]string)
			}
			d.KeptIDs = append(d.KeptIDs, sec.ID)
			d.Dropped[sec.ID] = sec.Dropped
			continue
		}
		d.DeleteIDs = append(d.DeleteIDs, sec.ID)
		for _, name := range sec.FieldNames() {
			v := sec.Get(name)
			if company.IsEmpty(v) || p.Has(name) || company.IsDerived(name) {
				continue
			}
			if _, done := d.Updates[name]; done {
				continue
			}
			d.Updates[name] = company.CloneValue(v)
		}
	}

	merged := p.Clone()
	merged.Apply(d.Updates)
	d.Fields = merged.Fields
	return d, nil
}

// better reports whether a should be preferred over b as primary.
func (r *Resolver) better(a, b company.Record, scores map[string]int) bool {
	if scores[a.ID] != scores[b.ID] {
		return scores[a.ID] > scores[b.ID]
	}
	if ra, rb := r.rank(a), r.rank(b); ra != rb {
		return ra < rb
	}
	if ca, cb := company.IsCorporateNumber(a.ID), company.IsCorporateNumber(b.ID); ca != cb {
		return ca
	}
	return a.ID < b.ID
}

func (r *Resolver) rank(rec company.Record) int {
	if n, ok := r.sourceRank[rec.Text(company.FieldSource)]; ok {
		return n
	}
	return len(r.sourceRank)
}
