package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeName(""))
	assert.Equal(t, "", NormalizeName("　 "))
	assert.Equal(t, "", NormalizeName("株式会社"))
}

func TestNormalizeName_JapaneseDesignators(t *testing.T) {
	want := "テスト"
	for _, in := range []string{
		"株式会社テスト",
		"テスト株式会社",
		"（株）テスト",
		"㈱テスト",
		"テスト(株)",
		"株式会社 テスト",
		"「テスト」株式会社",
	} {
		assert.Equal(t, want, NormalizeName(in), in)
	}
	assert.Equal(t, "テスト", NormalizeName("医療法人社団テスト"))
	assert.Equal(t, "テスト商事", NormalizeName("有限会社テスト　商事"))
}

func TestNormalizeName_LatinDesignators(t *testing.T) {
	assert.Equal(t, "ACME", NormalizeName("Acme Co., Ltd."))
	assert.Equal(t, "ACME", NormalizeName("ACME CO.,LTD."))
	assert.Equal(t, "ACME", NormalizeName("Acme Inc."))
	assert.Equal(t, "ACME", NormalizeName("Acme Corporation"))
	assert.Equal(t, "ACME", NormalizeName("Acme K.K."))
	assert.Equal(t, "ACME", NormalizeName("Acme Co"))
	assert.Equal(t, "COOPFOODS", NormalizeName("Co-op Foods"))
}

func TestNormalizeName_Punctuation(t *testing.T) {
	assert.Equal(t, "SMITHANDJONES", NormalizeName("Smith & Jones"))
	assert.Equal(t, "JOESADVISORS", NormalizeName("Joe's Advisors"))
	assert.Equal(t, "ABC", NormalizeName("ＡＢＣ"))
}

func TestNormalizeName_Deterministic(t *testing.T) {
	in := "株式会社　サンプル・ホールディングス"
	assert.Equal(t, NormalizeName(in), NormalizeName(in))
	assert.Equal(t, "サンプルホールディングス", NormalizeName(in))
}

func TestNormalizeAddress(t *testing.T) {
	want := "東京都千代田区丸の内1-2-3"
	for _, in := range []string{
		"東京都千代田区丸の内1-2-3",
		"東京都千代田区丸の内１丁目２番地３号",
		"東京都千代田区丸の内1丁目2番3号",
		"東京都 千代田区 丸の内 1ー2ー3",
		"東京都千代田区丸の内１－２－３　/地図",
		"東京都千代田区丸の内1-2-3 Googleマップで表示",
	} {
		assert.Equal(t, want, NormalizeAddress(in), in)
	}
	assert.Equal(t, "", NormalizeAddress("  "))
	assert.Equal(t, "大阪府大阪市北区1-2", NormalizeAddress("大阪府大阪市北区1丁目2番"))
}

func TestNormalizePostalCode(t *testing.T) {
	assert.Equal(t, "1000005", NormalizePostalCode("〒100-0005"))
	assert.Equal(t, "1000005", NormalizePostalCode("１００－０００５"))
	assert.Equal(t, "", NormalizePostalCode("n/a"))
}

func TestNormalizePrefecture(t *testing.T) {
	tests := []struct{ in, want string }{
		{"東京都", "東京"},
		{"東京", "東京"},
		{"京都府", "京都"},
		{"京都", "京都"},
		{"大阪府 ", "大阪"},
		{"北海道", "北海道"},
		{"神奈川県", "神奈川"},
		{"Tokyo", "Tokyo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePrefecture(tt.in), tt.in)
	}
}

func TestNormalizeRepresentative(t *testing.T) {
	tests := []struct{ in, want string }{
		{"代表取締役社長 山田 太郎", "山田太郎"},
		{"山田太郎（代表取締役）", "山田太郎"},
		{"代表取締役：山田　太郎", "山田太郎"},
		{"【代表】山田太郎", "山田太郎"},
		{"山田太郎 様", "山田太郎"},
		{"President John Smith", "JOHNSMITH"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRepresentative(tt.in), tt.in)
	}
}
