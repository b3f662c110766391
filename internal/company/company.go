// Package company defines the company record, its field schema, and the
// row-level rules that clean it.
package company

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known field names referenced by matching, cleaning, and backfill.
const (
	FieldName                = "name"
	FieldEnglishName         = "english_name"
	FieldCorporateNumber     = "corporate_number"
	FieldPostalCode          = "postal_code"
	FieldPrefecture          = "prefecture"
	FieldAddress             = "address"
	FieldHeadquartersAddress = "headquarters_address"
	FieldPhoneNumber         = "phone_number"
	FieldFax                 = "fax"
	FieldCompanyURL          = "company_url"
	FieldRepresentativeName  = "representative_name"
	FieldCapital             = "capital"
	FieldRevenue             = "revenue"
	FieldEmployeeCount       = "employee_count"
	FieldBank                = "bank"
	FieldClients             = "clients"
	FieldSource              = "source"

	// Lookup keys are derived from name and corporate number on every write
	// and indexed by the stores. They are never scored or merged.
	FieldNameKey            = "name_key"
	FieldCorporateNumberKey = "corporate_number_key"
)

// IsDerived reports whether a field is maintained by the stores rather than
// carried as company data.
func IsDerived(name string) bool {
	return name == FieldNameKey || name == FieldCorporateNumberKey
}

// Record is one company document. ID is the store identifier: a 13-digit
// corporate number when one was available at import time, otherwise a
// generated surrogate.
type Record struct { //nolint:revive // stutters but reads well at call sites
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
	// Dropped names stored fields that could not be read into Fields because
	// the schema does not know them or their value is nested. Such a record
	// must not be deleted on the strength of Fields alone.
	Dropped []string `json:"dropped,omitempty"`
}

// NewRecord builds a record, allocating the field map when nil.
func NewRecord(id string, fields map[string]any) Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return Record{ID: id, Fields: fields}
}

// Get returns the raw value of a field, or nil.
func (r Record) Get(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// Text returns a field rendered as trimmed text. Numbers are formatted without
// exponent; arrays and nil render as "".
func (r Record) Text(name string) string {
	s, _ := AsString(r.Get(name))
	return s
}

// Has reports whether a field is populated.
func (r Record) Has(name string) bool {
	return !IsEmpty(r.Get(name))
}

// CorporateNumber returns the record's normalized corporate number, or "".
func (r Record) CorporateNumber() string {
	return NormalizeCorporateNumber(r.Get(FieldCorporateNumber))
}

// Score counts populated fields, leaving out derived lookup keys.
func (r Record) Score() int {
	n := 0
	for k, v := range r.Fields {
		if !IsEmpty(v) && !IsDerived(k) {
			n++
		}
	}
	return n
}

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the record. Array values are copied so callers
// can mutate the clone freely.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = CloneValue(v)
	}
	if r.Dropped != nil {
		out.Dropped = append([]string(nil), r.Dropped...)
	}
	return out
}

// Apply folds field changes into the record; nil values clear the field.
func (r *Record) Apply(changes map[string]any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(changes))
	}
	for k, v := range changes {
		if v == nil {
			delete(r.Fields, k)
			continue
		}
		r.Fields[k] = v
	}
}

// CloneValue copies slice values; scalars are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// IsEmpty reports whether a value counts as missing: nil, whitespace-only
// text, an empty array, or NaN. Zero and false are populated.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	case time.Time:
		return t.IsZero()
	default:
		return false
	}
}

// AsString renders a scalar value as trimmed text. The second return is false
// for nil, arrays, and other non-scalar values.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case float64:
		if math.IsNaN(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(t), true
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}
