package company

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Rule is a named row-level fix. Apply returns the changes to make; a nil
// value clears the field. Rules must be idempotent: applying a rule to its own
// output yields no changes.
type Rule struct {
	Name  string
	Apply func(r Record) map[string]any
}

// DefaultRules returns every cleaning rule in the order they run.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "corporate_number", Apply: fixCorporateNumber},
		{Name: "strip_brackets", Apply: stripBrackets},
		{Name: "money_units", Apply: fixMoneyUnits},
		{Name: "fax_digits", Apply: fixFax},
		{Name: "representative_phone", Apply: rescueRepresentativePhone},
		{Name: "representative_date", Apply: dropRepresentativeDate},
		{Name: "clients_bank", Apply: moveBankFromClients},
		{Name: "company_url", Apply: extractURL},
		{Name: "address_noise", Apply: stripAddressNoise},
	}
}

// RulesByName selects rules from DefaultRules followed by extra, keeping that
// order. An empty list selects all of them.
func RulesByName(names []string, extra ...Rule) ([]Rule, error) {
	all := append(DefaultRules(), extra...)
	if len(names) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Rule
	for _, r := range all {
		if want[r.Name] {
			out = append(out, r)
			delete(want, r.Name)
		}
	}
	for n := range want {
		return nil, eris.Errorf("company: unknown cleaning rule %q", n)
	}
	return out, nil
}

// Clean runs rules in order, each seeing the record as left by the ones
// before, and returns the net changes against the original record.
func Clean(r Record, rules []Rule) map[string]any {
	work := r.Clone()
	changes := make(map[string]any)
	for _, rule := range rules {
		delta := rule.Apply(work)
		if len(delta) == 0 {
			continue
		}
		for k, v := range delta {
			changes[k] = v
		}
		work.Apply(delta)
	}
	for k, v := range changes {
		if sameValue(r.Get(k), v) {
			delete(changes, k)
		}
	}
	return changes
}

func sameValue(before, after any) bool {
	if after == nil {
		return before == nil
	}
	return reflect.DeepEqual(before, after)
}

func fixCorporateNumber(r Record) map[string]any {
	raw := r.Get(FieldCorporateNumber)
	if raw == nil {
		return nil
	}
	n := NormalizeCorporateNumber(raw)
	if n == "" {
		return map[string]any{FieldCorporateNumber: nil}
	}
	if s, ok := raw.(string); ok && s == n {
		return nil
	}
	return map[string]any{FieldCorporateNumber: n}
}

var bracketReplacer = strings.NewReplacer("[", "", "]", "", "「", "", "」", "")

func stripBrackets(r Record) map[string]any {
	out := make(map[string]any)
	for _, f := range []string{FieldName, FieldRepresentativeName, FieldBank, FieldClients} {
		s, ok := r.Get(f).(string)
		if !ok {
			continue
		}
		cleaned := strings.TrimSpace(bracketReplacer.Replace(s))
		switch {
		case cleaned == "":
			out[f] = nil
		case cleaned != s:
			out[f] = cleaned
		}
	}
	return out
}

// fixMoneyUnits repairs capital and revenue entered in the wrong unit: values
// under 10,000 are read as millions of yen and values under 1,000,000 as
// thousands. Results are always at least 1,000,000 so the rule is idempotent.
func fixMoneyUnits(r Record) map[string]any {
	out := make(map[string]any)
	for _, f := range []string{FieldCapital, FieldRevenue} {
		raw := r.Get(f)
		n, ok := moneyValue(raw)
		if !ok || n <= 0 {
			continue
		}
		var scaled int64
		switch {
		case n < 10_000:
			scaled = n * 1_000_000
		case n < 1_000_000:
			scaled = n * 1_000
		default:
			if _, isString := raw.(string); isString {
				out[f] = n
			}
			continue
		}
		out[f] = scaled
	}
	return out
}

// moneyValue reads integral yen amounts from numbers or digit strings with
// thousands separators.
func moneyValue(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(norm.NFKC.String(t)), ",", "")
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func fixFax(r Record) map[string]any {
	s, ok := r.Get(FieldFax).(string)
	if !ok {
		return nil
	}
	digits := onlyDigits(norm.NFKC.String(s))
	if digits == "" {
		return map[string]any{FieldFax: nil}
	}
	if digits == s {
		return nil
	}
	return map[string]any{FieldFax: digits}
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

var (
	phoneLikeRe = regexp.MustCompile(`^[0-9]{2,4}-?[0-9]{2,4}-?[0-9]{3,4}$`)
	dateLikeRe  = regexp.MustCompile(`^[0-9]{4}[-/][0-9]{1,2}`)
)

func rescueRepresentativePhone(r Record) map[string]any {
	s, ok := r.Get(FieldRepresentativeName).(string)
	if !ok {
		return nil
	}
	folded := strings.TrimSpace(norm.NFKC.String(s))
	if !phoneLikeRe.MatchString(folded) {
		return nil
	}
	out := map[string]any{FieldRepresentativeName: nil}
	if !r.Has(FieldPhoneNumber) {
		out[FieldPhoneNumber] = folded
	}
	return out
}

func dropRepresentativeDate(r Record) map[string]any {
	s, ok := r.Get(FieldRepresentativeName).(string)
	if !ok {
		return nil
	}
	if dateLikeRe.MatchString(strings.TrimSpace(norm.NFKC.String(s))) {
		return map[string]any{FieldRepresentativeName: nil}
	}
	return nil
}

var bankNameRe = regexp.MustCompile(`銀行|信用金庫|信金|Bank`)

func moveBankFromClients(r Record) map[string]any {
	s, ok := r.Get(FieldClients).(string)
	if !ok || !bankNameRe.MatchString(s) {
		return nil
	}
	out := map[string]any{FieldClients: nil}
	if !r.Has(FieldBank) {
		out[FieldBank] = strings.TrimSpace(s)
	}
	return out
}

var urlRe = regexp.MustCompile(`https?://[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+`)

func extractURL(r Record) map[string]any {
	s, ok := r.Get(FieldCompanyURL).(string)
	if !ok {
		return nil
	}
	m := urlRe.FindString(s)
	if m == "" || m == s {
		return nil
	}
	return map[string]any{FieldCompanyURL: m}
}

var (
	mapNoiseTailRe = regexp.MustCompile(`(/地図|Google\s*マップ).*$`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
)

// CleanAddress strips trailing map-link text scraped along with an address
// and collapses whitespace.
func CleanAddress(s string) string {
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = mapNoiseTailRe.ReplaceAllString(s, "")
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}

func stripAddressNoise(r Record) map[string]any {
	out := make(map[string]any)
	for _, f := range []string{FieldAddress, FieldHeadquartersAddress} {
		s, ok := r.Get(f).(string)
		if !ok {
			continue
		}
		cleaned := CleanAddress(s)
		switch {
		case cleaned == "":
			out[f] = nil
		case cleaned != s:
			out[f] = cleaned
		}
	}
	return out
}
