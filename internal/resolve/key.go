package resolve

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/companydb/internal/company"
)

// Mode selects which identity a key is built from.
type Mode string

// Key modes.
const (
	// ModeAuto uses the corporate number when valid, otherwise name+address.
	ModeAuto Mode = "auto"
	// ModeCorporateNumber only groups records that have a valid corporate number.
	ModeCorporateNumber Mode = "corporate-number"
	// ModeNameAddress always groups by name and address.
	ModeNameAddress Mode = "name-address"
)

// ParseMode validates a key mode name. Empty selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeCorporateNumber, ModeNameAddress:
		return Mode(s), nil
	default:
		return "", eris.Errorf("resolve: unknown key mode %q", s)
	}
}

// Key is the canonical identity of a record, derived and never stored.
type Key struct {
	CorporateNumber string
	Name            string
	Address         string
	Prefecture      string
	Representative  string
}

// String renders the key for grouping. Invalid keys render as "" and must not
// be grouped with anything.
func (k Key) String() string {
	if k.Name == "" {
		return ""
	}
	if k.CorporateNumber != "" {
		return "cn:" + k.CorporateNumber
	}
	if k.Address == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("na:")
	b.WriteString(k.Name)
	b.WriteString("|")
	b.WriteString(k.Address)
	if k.Prefecture != "" {
		b.WriteString("|p=")
		b.WriteString(k.Prefecture)
	}
	if k.Representative != "" {
		b.WriteString("|r=")
		b.WriteString(k.Representative)
	}
	return b.String()
}

// Valid reports whether the key may be grouped.
func (k Key) Valid() bool { return k.String() != "" }

// KeyOptions configures key derivation.
type KeyOptions struct {
	Mode                  Mode
	IncludePrefecture     bool
	IncludeRepresentative bool
}

// Normalizer derives canonical keys. It is pure and safe for concurrent use.
type Normalizer struct {
	opts KeyOptions
}

// NewNormalizer creates a normalizer. An empty mode selects ModeAuto.
func NewNormalizer(opts KeyOptions) *Normalizer {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	return &Normalizer{opts: opts}
}

// Options returns the normalizer's configuration.
func (n *Normalizer) Options() KeyOptions { return n.opts }

// Key derives the canonical key of r. The record is not modified.
func (n *Normalizer) Key(r company.Record) Key {
	name := NormalizeName(r.Text(company.FieldName))
	if name == "" {
		return Key{}
	}
	cn := r.CorporateNumber()

	switch n.opts.Mode {
	case ModeCorporateNumber:
		if cn == "" {
			return Key{}
		}
		return Key{CorporateNumber: cn, Name: name}
	case ModeAuto:
		if cn != "" {
			return Key{CorporateNumber: cn, Name: name}
		}
	}

	k := Key{
		Name:    name,
		Address: NormalizeAddress(r.Text(company.FieldAddress)),
	}
	if n.opts.IncludePrefecture {
		k.Prefecture = NormalizePrefecture(r.Text(company.FieldPrefecture))
	}
	if n.opts.IncludeRepresentative {
		k.Representative = NormalizeRepresentative(r.Text(company.FieldRepresentativeName))
	}
	return k
}

// LookupField returns the derived lookup field and value the store should be
// queried on to find candidates sharing r's key, for strategies that group by
// query rather than by full scan. The value is computed from r, so it holds
// even when r's own stored key is stale. ok is false when r has no valid key.
func (n *Normalizer) LookupField(r company.Record) (field string, value string, ok bool) {
	k := n.Key(r)
	if !k.Valid() {
		return "", "", false
	}
	if k.CorporateNumber != "" {
		return company.FieldCorporateNumberKey, k.CorporateNumber, true
	}
	return company.FieldNameKey, k.Name, true
}
