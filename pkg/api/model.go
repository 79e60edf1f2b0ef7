package api

import "fmt"

// ModelKey is the reserved graph variable holding the whole model record.
// It is used for template value resolution and never persisted.
const ModelKey = "$model"

// Schema is the declared, ordered field list of a process model.
type Schema struct {
	fields []string
	index  map[string]int
}

// NewSchema builds a schema from field names. Duplicates are ignored, the
// first occurrence fixes the position.
func NewSchema(fields ...string) *Schema {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if _, ok := s.index[f]; ok || f == "" {
			continue
		}
		s.index[f] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s
}

// Fields returns the field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Has reports whether the schema declares field.
func (s *Schema) Has(field string) bool {
	_, ok := s.index[field]
	return ok
}

// Model is the typed variable record of a process instance.
type Model interface {
	Schema() *Schema
	Get(field string) any
	Set(field string, v any) error
	ToMap() map[string]any
}

// Record is the Model implementation used by the engine: a fixed-size
// slot array in schema order.
type Record struct {
	schema *Schema
	values []any
}

var _ Model = (*Record)(nil)

// NewRecord creates an empty record for schema.
func NewRecord(schema *Schema) *Record {
	return &Record{schema: schema, values: make([]any, len(schema.fields))}
}

// RecordFromMap creates a record and copies every declared field from vars.
// Keys not declared by the schema are ignored.
func RecordFromMap(schema *Schema, vars map[string]any) *Record {
	r := NewRecord(schema)
	r.FromMap(vars)
	return r
}

func (r *Record) Schema() *Schema { return r.schema }

func (r *Record) Get(field string) any {
	i, ok := r.schema.index[field]
	if !ok {
		return nil
	}
	return r.values[i]
}

func (r *Record) Set(field string, v any) error {
	i, ok := r.schema.index[field]
	if !ok {
		return fmt.Errorf("field %q is not declared by the model", field)
	}
	r.values[i] = v
	return nil
}

// ToMap returns the declared fields as a plain map.
func (r *Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, f := range r.schema.fields {
		out[f] = r.values[i]
	}
	return out
}

// FromMap overwrites every declared field that is present in vars.
func (r *Record) FromMap(vars map[string]any) {
	for i, f := range r.schema.fields {
		if v, ok := vars[f]; ok {
			r.values[i] = v
		}
	}
}

// Clone returns a shallow copy.
func (r *Record) Clone() *Record {
	c := &Record{schema: r.schema, values: make([]any, len(r.values))}
	copy(c.values, r.values)
	return c
}
