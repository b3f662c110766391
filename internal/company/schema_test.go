package company

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema_KnownFields(t *testing.T) {
	s := DefaultSchema()
	for _, f := range []string{
		FieldName, FieldCorporateNumber, FieldAddress, FieldPrefecture,
		FieldPhoneNumber, FieldFax, FieldCapital, FieldRevenue, FieldBank,
		FieldClients, FieldCompanyURL, FieldRepresentativeName, FieldSource,
	} {
		assert.True(t, s.Has(f), f)
	}
	fd, ok := s.Field(FieldCapital)
	require.True(t, ok)
	assert.Equal(t, KindNumber, fd.Kind)
	assert.Equal(t, s.Len(), len(s.Names()))
}

func TestLoadSchema_Errors(t *testing.T) {
	_, err := LoadSchema([]byte("fields: []"))
	require.Error(t, err)

	_, err = LoadSchema([]byte("fields:\n  - name: a\n  - name: a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = LoadSchema([]byte("fields:\n  - name: a\n    kind: blob\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadSchema_DefaultKind(t *testing.T) {
	s, err := LoadSchema([]byte("fields:\n  - name: a\n"))
	require.NoError(t, err)
	fd, _ := s.Field("a")
	assert.Equal(t, KindString, fd.Kind)
}

func TestSchema_Validate(t *testing.T) {
	s := DefaultSchema()

	assert.NoError(t, s.Validate(map[string]any{FieldName: "Acme", FieldCapital: int64(1)}))

	err := s.Validate(map[string]any{"favorite_color": "blue"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownField))

	err = s.Validate(map[string]any{FieldName: map[string]any{"nested": true}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnsupportedValue))
}

func TestSchema_Filter(t *testing.T) {
	s := DefaultSchema().With("legacy_code")
	got, dropped := s.Filter("A", map[string]any{
		FieldName:     "Acme",
		"legacy_code": "X1",
		"unknown":     "drop",
		FieldAddress:  map[string]any{"nested": 1},
	})
	assert.Equal(t, map[string]any{FieldName: "Acme", "legacy_code": "X1"}, got)
	assert.Equal(t, []string{FieldAddress, "unknown"}, dropped)
}

func TestSchema_Record(t *testing.T) {
	r := DefaultSchema().Record("A", map[string]any{FieldName: "Acme", "legacy_code": "X1"})
	assert.Equal(t, "A", r.ID)
	assert.Equal(t, map[string]any{FieldName: "Acme"}, r.Fields)
	assert.Equal(t, []string{"legacy_code"}, r.Dropped)

	clean := DefaultSchema().Record("B", map[string]any{FieldName: "Acme"})
	assert.Nil(t, clean.Dropped)
}

func TestSchema_WithDoesNotMutate(t *testing.T) {
	base := DefaultSchema()
	ext := base.With("custom_field", FieldName, "")
	assert.True(t, ext.Has("custom_field"))
	assert.False(t, base.Has("custom_field"))
	assert.Equal(t, base.Len()+1, ext.Len())
}
