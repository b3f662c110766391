package company

import (
	_ "embed"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var schemaYAML []byte

// ErrUnknownField is returned when a field name is not in the schema.
var ErrUnknownField = eris.New("company: unknown field")

// ErrUnsupportedValue is returned for values that are not scalars or arrays.
var ErrUnsupportedValue = eris.New("company: unsupported field value")

// FieldKind is the expected shape of a field value.
type FieldKind string

// Field kinds.
const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindArray  FieldKind = "array"
	KindBool   FieldKind = "bool"
)

// FieldDef describes one known attribute.
type FieldDef struct {
	Name  string    `yaml:"name"`
	Kind  FieldKind `yaml:"kind"`
	Group string    `yaml:"group"`
}

// Schema is the whitelist of attributes a record may carry.
type Schema struct {
	fields map[string]FieldDef
	order  []string

	mu     sync.Mutex
	warned map[string]bool
}

type schemaFile struct {
	Fields []FieldDef `yaml:"fields"`
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
)

// DefaultSchema returns the embedded schema. It panics if the embedded YAML is
// invalid, which only a broken build can cause.
func DefaultSchema() *Schema {
	defaultOnce.Do(func() {
		s, err := LoadSchema(schemaYAML)
		if err != nil {
			panic(err)
		}
		defaultSchema = s
	})
	return defaultSchema
}

// LoadSchema parses a schema document.
func LoadSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "company: parse schema")
	}
	if len(f.Fields) == 0 {
		return nil, eris.New("company: schema has no fields")
	}

	s := &Schema{fields: make(map[string]FieldDef, len(f.Fields))}
	for _, fd := range f.Fields {
		if fd.Name == "" {
			return nil, eris.New("company: schema field without name")
		}
		if _, dup := s.fields[fd.Name]; dup {
			return nil, eris.Errorf("company: duplicate schema field %q", fd.Name)
		}
		switch fd.Kind {
		case KindString, KindNumber, KindArray, KindBool:
		case "":
			fd.Kind = KindString
		default:
			return nil, eris.Errorf("company: field %q has unknown kind %q", fd.Name, fd.Kind)
		}
		s.fields[fd.Name] = fd
		s.order = append(s.order, fd.Name)
	}
	return s, nil
}

// With returns a copy of the schema that also allows the given string fields.
func (s *Schema) With(extra ...string) *Schema {
	out := &Schema{fields: make(map[string]FieldDef, len(s.fields)+len(extra))}
	for _, name := range s.order {
		out.fields[name] = s.fields[name]
		out.order = append(out.order, name)
	}
	for _, name := range extra {
		if name == "" {
			continue
		}
		if _, ok := out.fields[name]; ok {
			continue
		}
		out.fields[name] = FieldDef{Name: name, Kind: KindString, Group: "extra"}
		out.order = append(out.order, name)
	}
	return out
}

// Has reports whether name is a known field.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Field returns the definition of a known field.
func (s *Schema) Field(name string) (FieldDef, bool) {
	fd, ok := s.fields[name]
	return fd, ok
}

// Names returns field names in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of known fields.
func (s *Schema) Len() int { return len(s.order) }

// Validate checks a field map at a write boundary. Unknown names and nested
// maps are errors.
func (s *Schema) Validate(fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if !s.Has(k) {
			return eris.Wrapf(ErrUnknownField, "field %q", k)
		}
		if !supportedValue(fields[k]) {
			return eris.Wrapf(ErrUnsupportedValue, "field %q (%T)", k, fields[k])
		}
	}
	return nil
}

// Filter returns the subset of fields the schema accepts, for use at a read
// boundary, and the sorted names it left out. Dropped names are logged once
// per schema.
func (s *Schema) Filter(id string, fields map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(fields))
	var dropped []string
	for k, v := range fields {
		if s.Has(k) && supportedValue(v) {
			out[k] = v
			continue
		}
		dropped = append(dropped, k)
		s.warnOnce(k, id)
	}
	sort.Strings(dropped)
	return out, dropped
}

// Record builds a record from a stored document. Fields the schema cannot
// carry are left out and listed in Record.Dropped.
func (s *Schema) Record(id string, fields map[string]any) Record {
	kept, dropped := s.Filter(id, fields)
	r := NewRecord(id, kept)
	r.Dropped = dropped
	return r
}

func (s *Schema) warnOnce(field, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned == nil {
		s.warned = make(map[string]bool)
	}
	if s.warned[field] {
		return
	}
	s.warned[field] = true
	zap.L().Warn("company: dropping field outside schema",
		zap.String("field", field),
		zap.String("first_seen_id", id),
	)
}

func supportedValue(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64,
		[]any, []string, time.Time:
		return true
	default:
		return false
	}
}
