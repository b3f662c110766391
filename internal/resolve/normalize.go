// Package resolve derives canonical matching keys from company records and
// decides how a group of duplicates collapses into one surviving record.
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/companydb/internal/company"
)

// jpDesignators lists Japanese entity designators, longest first so that
// 医療法人社団 is removed before 医療法人.
var jpDesignators = []string{
	"特定非営利活動法人",
	"一般社団法人", "一般財団法人", "公益社団法人", "公益財団法人",
	"医療法人社団", "医療法人財団",
	"社会福祉法人", "独立行政法人",
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
	"医療法人", "学校法人", "宗教法人", "協同組合", "NPO法人",
	"(株)", "(有)", "(合)", "(同)", "(資)", "(名)", "(社)", "(財)", "(医)",
}

// latinDesignators are dropped as whole tokens. CO is handled separately since
// it is only a designator when trailing or followed by LTD.
var latinDesignators = map[string]bool{
	"INC":          true,
	"INCORPORATED": true,
	"CORP":         true,
	"CORPORATION":  true,
	"LTD":          true,
	"LIMITED":      true,
	"LLC":          true,
	"KK":           true,
	"PLC":          true,
	"GK":           true,
}

var namePunctuation = strings.NewReplacer(
	"K.K.", " KK ",
	"&", " AND ",
	",", " ",
	".", " ",
	"'", "",
	"\"", " ",
	"・", " ",
	"「", " ",
	"」", " ",
	"『", " ",
	"』", " ",
	"[", " ",
	"]", " ",
	"(", " ",
	")", " ",
	"-", " ",
	"/", " ",
)

// NormalizeName folds a company name for matching. Entity designators are
// removed wherever they appear, so 株式会社テスト, テスト株式会社 and (株)テスト all
// normalize to the same value. The result has no whitespace.
func NormalizeName(name string) string {
	name = strings.TrimSpace(norm.NFKC.String(name))
	if name == "" {
		return ""
	}
	name = strings.ToUpper(name)

	for _, d := range jpDesignators {
		name = strings.ReplaceAll(name, d, " ")
	}
	name = namePunctuation.Replace(name)

	tokens := strings.Fields(name)
	kept := tokens[:0]
	for i, tok := range tokens {
		if latinDesignators[tok] {
			continue
		}
		if tok == "CO" {
			last := i == len(tokens)-1
			if last || tokens[i+1] == "LTD" || tokens[i+1] == "LIMITED" {
				continue
			}
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, "")
}

var (
	digitDashRe  = regexp.MustCompile(`([0-9])[ー－−‐‑‒–—―]`)
	dashRe       = regexp.MustCompile(`[－−‐‑‒–—―]`)
	chomeRe      = regexp.MustCompile(`([0-9]+)丁目`)
	banchiRe     = regexp.MustCompile(`([0-9]+)番地?`)
	gouRe        = regexp.MustCompile(`([0-9]+)号`)
	multiDashRe  = regexp.MustCompile(`-{2,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeAddress folds an address for matching: full-width characters are
// folded, map-link noise is removed, block numbers written as N丁目M番地K号
// become N-M-K, and all whitespace is dropped.
func NormalizeAddress(addr string) string {
	addr = norm.NFKC.String(addr)
	addr = company.CleanAddress(addr)
	if addr == "" {
		return ""
	}
	addr = strings.ToUpper(addr)
	addr = digitDashRe.ReplaceAllString(addr, "$1-")
	addr = dashRe.ReplaceAllString(addr, "-")
	addr = chomeRe.ReplaceAllString(addr, "$1-")
	addr = banchiRe.ReplaceAllString(addr, "$1-")
	addr = gouRe.ReplaceAllString(addr, "$1")
	addr = whitespaceRe.ReplaceAllString(addr, "")
	addr = multiDashRe.ReplaceAllString(addr, "-")
	return strings.TrimRight(addr, "-")
}

// NormalizePostalCode keeps only the digits of a postal code.
func NormalizePostalCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, norm.NFKC.String(code))
}

var prefectureBases = map[string]bool{
	"北海道": true, "青森": true, "岩手": true, "宮城": true, "秋田": true,
	"山形": true, "福島": true, "茨城": true, "栃木": true, "群馬": true,
	"埼玉": true, "千葉": true, "東京": true, "神奈川": true, "新潟": true,
	"富山": true, "石川": true, "福井": true, "山梨": true, "長野": true,
	"岐阜": true, "静岡": true, "愛知": true, "三重": true, "滋賀": true,
	"京都": true, "大阪": true, "兵庫": true, "奈良": true, "和歌山": true,
	"鳥取": true, "島根": true, "岡山": true, "広島": true, "山口": true,
	"徳島": true, "香川": true, "愛媛": true, "高知": true, "福岡": true,
	"佐賀": true, "長崎": true, "熊本": true, "大分": true, "宮崎": true,
	"鹿児島": true, "沖縄": true,
}

// NormalizePrefecture drops the trailing 都, 府 or 県 from a prefecture name,
// so 東京都 and 東京 compare equal. Unknown values are only trimmed.
func NormalizePrefecture(pref string) string {
	pref = whitespaceRe.ReplaceAllString(norm.NFKC.String(pref), "")
	for _, suffix := range []string{"都", "府", "県"} {
		base := strings.TrimSuffix(pref, suffix)
		if base != pref && prefectureBases[base] {
			return base
		}
	}
	return pref
}

// Role titles, longest first.
var representativeTitles = []string{
	"REPRESENTATIVE DIRECTOR",
	"代表取締役社長執行役員",
	"代表取締役副社長", "代表取締役会長", "代表取締役社長", "代表取締役専務", "代表取締役常務",
	"代表執行役社長", "代表執行役",
	"代表取締役", "取締役社長", "代表理事長",
	"代表理事", "代表社員", "執行役員", "会長兼社長",
	"理事長", "代表者", "取締役",
	"社長", "会長", "代表", "院長", "所長", "園長", "学長", "校長", "組合長",
	"PRESIDENT", "CHAIRMAN", "DIRECTOR", "CEO", "COO",
}

var parentheticalRe = regexp.MustCompile(`\([^)]*\)|【[^】]*】|〔[^〕]*〕`)

// NormalizeRepresentative folds a representative name for matching, removing
// parenthetical annotations, role titles and honorifics.
func NormalizeRepresentative(name string) string {
	name = strings.ToUpper(norm.NFKC.String(name))
	name = parentheticalRe.ReplaceAllString(name, " ")
	for _, title := range representativeTitles {
		name = strings.ReplaceAll(name, title, " ")
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ':' || r == '・' || r == ',' || r == '.' {
			return -1
		}
		return r
	}, name)
	for _, honorific := range []string{"氏", "様", "殿"} {
		name = strings.TrimSuffix(name, honorific)
	}
	return name
}
