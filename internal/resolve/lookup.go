package resolve

import (
	"reflect"

	"github.com/sells-group/companydb/internal/company"
)

// LookupKeys returns the derived lookup fields implied by a set of field
// changes: name_key when the changes touch the name, corporate_number_key
// when they touch the corporate number. A nil value clears the key. Stores
// index these fields so a record's candidates can be found by one equality
// query however their raw values are spelled.
func LookupKeys(changes map[string]any) map[string]any {
	var out map[string]any
	set := func(k string, v string) {
		if out == nil {
			out = make(map[string]any, 2)
		}
		if v == "" {
			out[k] = nil
			return
		}
		out[k] = v
	}
	if v, ok := changes[company.FieldName]; ok {
		s, _ := company.AsString(v)
		set(company.FieldNameKey, NormalizeName(s))
	}
	if v, ok := changes[company.FieldCorporateNumber]; ok {
		set(company.FieldCorporateNumberKey, company.NormalizeCorporateNumber(v))
	}
	return out
}

// WithLookupKeys returns fields with its lookup keys filled in. The input map
// is not modified; it is returned as-is when it touches neither source field.
func WithLookupKeys(fields map[string]any) map[string]any {
	keys := LookupKeys(fields)
	if len(keys) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields)+len(keys))
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range keys {
		out[k] = v
	}
	return out
}

// LookupKeyRule is the cleaning rule that brings stored lookup keys in line
// with the current name and corporate number. Records written before the keys
// existed need one clean pass before an incremental dedup can find them.
func LookupKeyRule() company.Rule {
	return company.Rule{
		Name: "lookup_keys",
		Apply: func(r company.Record) map[string]any {
			want := LookupKeys(map[string]any{
				company.FieldName:            r.Get(company.FieldName),
				company.FieldCorporateNumber: r.Get(company.FieldCorporateNumber),
			})
			changes := make(map[string]any, len(want))
			for k, v := range want {
				if !reflect.DeepEqual(r.Get(k), v) {
					changes[k] = v
				}
			}
			return changes
		},
	}
}
