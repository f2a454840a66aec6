package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the indexing behaviour of a field.
type FieldKind string

const (
	// KindText is tokenized full text.
	KindText FieldKind = "text"
	// KindKeyword is an untokenized exact-match string.
	KindKeyword FieldKind = "keyword"
	// KindNumeric is a number, indexed and stored as float64. A numeric
	// primary key keeps its exact integer value in the document ID.
	KindNumeric FieldKind = "numeric"
	// KindDateTime is a point in time.
	KindDateTime FieldKind = "datetime"
	// KindBoolean is true or false.
	KindBoolean FieldKind = "boolean"
)

// Field describes one indexed and stored field.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Analyzer string    `json:"analyzer,omitempty" yaml:"analyzer,omitempty"`
}

// Schema is the fixed set of fields of an index.
type Schema struct {
	Name       string  `json:"name" yaml:"name"`
	PrimaryKey string  `json:"primary_key" yaml:"primary_key"`
	Fields     []Field `json:"fields" yaml:"fields"`
}

// Validate checks the schema is usable.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}
	if s.PrimaryKey == "" {
		return fmt.Errorf("schema %q has no primary key", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q has a field without a name", s.Name)
		}
		if strings.HasPrefix(f.Name, "_") {
			return fmt.Errorf("field %q: names starting with '_' are reserved", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Kind {
		case KindText:
		case KindKeyword, KindNumeric, KindDateTime, KindBoolean:
			if f.Analyzer != "" {
				return fmt.Errorf("field %q: analyzer is only valid on text fields", f.Name)
			}
		default:
			return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
	}

	pk, ok := s.Field(s.PrimaryKey)
	if !ok {
		return fmt.Errorf("primary key %q is not a declared field", s.PrimaryKey)
	}
	if pk.Kind != KindKeyword && pk.Kind != KindNumeric {
		return fmt.Errorf("primary key %q must be keyword or numeric, got %s", pk.Name, pk.Kind)
	}
	return nil
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Fingerprint returns a stable hash of the field layout. The schema name is
// not part of it.
func (s Schema) Fingerprint() string {
	canonical := struct {
		PrimaryKey string  `json:"primary_key"`
		Fields     []Field `json:"fields"`
	}{s.PrimaryKey, s.Fields}

	// Marshal of plain strings and slices cannot fail.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyString returns the canonical string form of a primary-key value.
func KeyString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", fmt.Errorf("empty key")
		}
		return val, nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return KeyString(float64(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("key %v is not finite", val)
		}
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case json.Number:
		if key, ok := ExactInteger(val.String()); ok {
			return KeyString(key)
		}
		f, err := val.Float64()
		if err != nil {
			return "", fmt.Errorf("key %q: %w", val, err)
		}
		return KeyString(f)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case nil:
		return "", fmt.Errorf("nil key")
	default:
		return "", fmt.Errorf("unsupported key type %T", v)
	}
}

// ExactInteger parses s as an int64, or as a uint64 when it is above the
// int64 range. Numbers with a fraction or exponent are not integers here.
func ExactInteger(s string) (any, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, true
	}
	return nil, false
}

// Numeric converts a numeric field value to float64.
func Numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
