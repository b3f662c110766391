package company

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCorporateNumber(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"ascii", "1234567890123", "1234567890123"},
		{"padded", " 1234567890123 ", "1234567890123"},
		{"full width", "１２３４５６７８９０１２３", "1234567890123"},
		{"int64", int64(1234567890123), "1234567890123"},
		{"int", 1234567890123, "1234567890123"},
		{"float rejected", 1234567890123.0, ""},
		{"exponent text", "1.23457E+12", ""},
		{"too short", "123456789012", ""},
		{"too long", "12345678901234", ""},
		{"hyphenated", "1234-5678-90123", ""},
		{"nil", nil, ""},
		{"bool", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCorporateNumber(tt.value))
		})
	}
}

func TestIsCorporateNumber(t *testing.T) {
	assert.True(t, IsCorporateNumber("0000000000000"))
	assert.False(t, IsCorporateNumber("000000000000a"))
	assert.False(t, IsCorporateNumber(""))
}
