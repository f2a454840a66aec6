package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// DefaultScoreField is the key MapMapper stores the score under on decode.
const DefaultScoreField = "_score"

// Record is a schemaless record handled by MapMapper.
type Record = map[string]any

// MapMapper maps map[string]any records according to a runtime schema.
// Values are coerced to the field kind, so JSON-decoded input works as is.
type MapMapper struct {
	schema     engine.Schema
	scoreField string
}

// NewMapMapper returns a mapper for schema.
func NewMapMapper(schema engine.Schema) (*MapMapper, error) {
	if err := schema.Validate(); err != nil {
		return nil, ierrors.SchemaError(err.Error(), err)
	}
	return &MapMapper{schema: schema, scoreField: DefaultScoreField}, nil
}

// Schema returns the mapper's schema.
func (m *MapMapper) Schema() engine.Schema {
	return m.schema
}

// Encode validates and coerces the record's fields. Unknown keys are an
// error; missing non-key fields are left out.
func (m *MapMapper) Encode(record Record) (engine.Document, error) {
	fields := make(map[string]any, len(record))
	for key, raw := range record {
		if key == m.scoreField {
			continue
		}
		f, ok := m.schema.Field(key)
		if !ok {
			return engine.Document{}, fmt.Errorf("unknown field %q", key)
		}
		v, err := Coerce(f.Kind, raw)
		if err != nil {
			return engine.Document{}, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = v
	}

	key, ok := fields[m.schema.PrimaryKey]
	if !ok {
		return engine.Document{}, fmt.Errorf("missing primary key %q", m.schema.PrimaryKey)
	}
	if err := checkExactKey(key); err != nil {
		return engine.Document{}, fmt.Errorf("primary key %q: %w", m.schema.PrimaryKey, err)
	}
	id, err := engine.KeyString(key)
	if err != nil {
		return engine.Document{}, fmt.Errorf("primary key %q: %w", m.schema.PrimaryKey, err)
	}
	return engine.Document{ID: id, Fields: fields}, nil
}

// PrimaryKeyTerm returns the record's primary-key term.
func (m *MapMapper) PrimaryKeyTerm(record Record) (engine.Term, error) {
	pk, _ := m.schema.Field(m.schema.PrimaryKey)
	raw, ok := record[pk.Name]
	if !ok {
		return engine.Term{}, fmt.Errorf("missing primary key %q", pk.Name)
	}
	v, err := Coerce(pk.Kind, raw)
	if err != nil {
		return engine.Term{}, fmt.Errorf("primary key %q: %w", pk.Name, err)
	}
	if err := checkExactKey(v); err != nil {
		return engine.Term{}, fmt.Errorf("primary key %q: %w", pk.Name, err)
	}
	if _, err := engine.KeyString(v); err != nil {
		return engine.Term{}, fmt.Errorf("primary key %q: %w", pk.Name, err)
	}
	return engine.Term{Field: pk.Name, Value: v}, nil
}

// Decode returns the stored fields plus the score.
func (m *MapMapper) Decode(doc engine.Document, score float64) (Record, error) {
	out := make(Record, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		out[k] = v
	}
	out[m.scoreField] = score
	return out, nil
}

// checkExactKey rejects float64 integer keys from 2^53 up, which may already
// have been rounded by a JSON decoder. Such keys must arrive as strings or
// json.Number.
func checkExactKey(v any) error {
	f, ok := v.(float64)
	if ok && f == math.Trunc(f) && math.Abs(f) >= 1<<53 {
		return fmt.Errorf("integer key %.0f is beyond float64 precision; send it as a string", f)
	}
	return nil
}

// Coerce converts a loosely typed value, such as one decoded from JSON or
// given on a command line, to the representation of kind.
func Coerce(kind engine.FieldKind, raw any) (any, error) {
	switch kind {
	case engine.KindText, engine.KindKeyword:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected string list item, got %T", item)
				}
				out = append(out, s)
			}
			return out, nil
		case []string:
			return v, nil
		case json.Number:
			return v.String(), nil
		}
		return nil, fmt.Errorf("expected string, got %T", raw)

	case engine.KindNumeric:
		if s, ok := raw.(string); ok {
			raw = json.Number(s)
		}
		if num, ok := raw.(json.Number); ok {
			if n, ok := engine.ExactInteger(num.String()); ok {
				return n, nil
			}
		}
		n, ok := engine.Numeric(raw)
		if !ok {
			return nil, fmt.Errorf("expected number, got %v", raw)
		}
		return n, nil

	case engine.KindBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, fmt.Errorf("expected bool, got %v", raw)

	case engine.KindDateTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("expected RFC 3339 time: %w", err)
			}
			return t, nil
		}
		return nil, fmt.Errorf("expected time, got %T", raw)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

var _ Mapper[Record] = (*MapMapper)(nil)
