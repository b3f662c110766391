package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/companydb/internal/company"
)

func rec(id string, fields map[string]any) company.Record {
	return company.NewRecord(id, fields)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	m, err = ParseMode("name-address")
	require.NoError(t, err)
	assert.Equal(t, ModeNameAddress, m)

	_, err = ParseMode("fuzzy")
	require.Error(t, err)
}

func TestKey_CorporateNumberWins(t *testing.T) {
	n := NewNormalizer(KeyOptions{})
	a := n.Key(rec("1", map[string]any{"name": "株式会社テスト", "corporate_number": "1234567890123"}))
	b := n.Key(rec("2", map[string]any{"name": "Test Co., Ltd.", "corporate_number": "１２３４５６７８９０１２３", "address": "大阪"}))

	assert.Equal(t, "cn:1234567890123", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestKey_ScientificNotationFallsBack(t *testing.T) {
	n := NewNormalizer(KeyOptions{})
	k := n.Key(rec("1", map[string]any{
		"name":             "株式会社テスト",
		"corporate_number": "9.18E+12",
		"address":          "東京都港区1-1",
	}))
	assert.Equal(t, "", k.CorporateNumber)
	assert.Equal(t, "na:テスト|東京都港区1-1", k.String())
}

func TestKey_EmptyNameNeverMatches(t *testing.T) {
	n := NewNormalizer(KeyOptions{})
	k := n.Key(rec("1", map[string]any{"corporate_number": "1234567890123", "address": "東京"}))
	assert.False(t, k.Valid())
	assert.Equal(t, "", k.String())
}

func TestKey_EmptyAddressInvalid(t *testing.T) {
	n := NewNormalizer(KeyOptions{Mode: ModeNameAddress})
	k := n.Key(rec("1", map[string]any{"name": "テスト"}))
	assert.False(t, k.Valid())
}

func TestKey_CorporateNumberMode(t *testing.T) {
	n := NewNormalizer(KeyOptions{Mode: ModeCorporateNumber})
	k := n.Key(rec("1", map[string]any{"name": "テスト", "address": "東京"}))
	assert.False(t, k.Valid())
}

func TestKey_NameAddressModeIgnoresCorporateNumber(t *testing.T) {
	n := NewNormalizer(KeyOptions{Mode: ModeNameAddress})
	k := n.Key(rec("1", map[string]any{"name": "テスト", "address": "東京都港区1-1", "corporate_number": "1234567890123"}))
	assert.Equal(t, "na:テスト|東京都港区1-1", k.String())
}

func TestKey_PrefectureAndRepresentative(t *testing.T) {
	n := NewNormalizer(KeyOptions{Mode: ModeNameAddress, IncludePrefecture: true, IncludeRepresentative: true})
	a := n.Key(rec("1", map[string]any{
		"name": "テスト", "address": "港区1-1", "prefecture": "東京都", "representative_name": "代表取締役 山田太郎",
	}))
	b := n.Key(rec("2", map[string]any{
		"name": "(株)テスト", "address": "港区１－１", "prefecture": "東京", "representative_name": "山田 太郎",
	}))
	c := n.Key(rec("3", map[string]any{
		"name": "テスト", "address": "港区1-1", "prefecture": "大阪府", "representative_name": "山田太郎",
	}))
	assert.Equal(t, "na:テスト|港区1-1|p=東京|r=山田太郎", a.String())
	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
}

func TestKey_DoesNotModifyRecord(t *testing.T) {
	r := rec("1", map[string]any{"name": "株式会社テスト", "address": "東京都港区１－１"})
	NewNormalizer(KeyOptions{}).Key(r)
	assert.Equal(t, "株式会社テスト", r.Fields["name"])
	assert.Equal(t, "東京都港区１－１", r.Fields["address"])
}

func TestLookupField(t *testing.T) {
	n := NewNormalizer(KeyOptions{})

	f, v, ok := n.LookupField(rec("1", map[string]any{"name": "テスト", "corporate_number": "１２３４５６７８９０１２３"}))
	require.True(t, ok)
	assert.Equal(t, "corporate_number_key", f)
	assert.Equal(t, "1234567890123", v)

	f, v, ok = n.LookupField(rec("2", map[string]any{"name": "株式会社テスト", "address": "東京"}))
	require.True(t, ok)
	assert.Equal(t, "name_key", f)
	assert.Equal(t, "テスト", v)

	_, _, ok = n.LookupField(rec("3", map[string]any{"address": "東京"}))
	assert.False(t, ok)
}
