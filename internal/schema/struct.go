package schema

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// TagName is the struct tag read by StructMapper.
//
//	type Article struct {
//		ID    string  `index:"id,pk"`
//		Title string  `index:"title"`
//		Body  string  `index:"body,analyzer=code"`
//		Tags  string  `index:"tags,kind=keyword"`
//		Score float64 `index:",score"`
//	}
//
// Untagged fields and fields tagged "-" are ignored. The kind defaults from
// the Go type: strings are text (keyword for the primary key), numbers are
// numeric, bools are boolean and time.Time is datetime.
const TagName = "index"

var timeType = reflect.TypeOf(time.Time{})

type structField struct {
	index []int
	field engine.Field
	typ   reflect.Type
}

// StructMapper maps a struct type through its `index` tags.
type StructMapper[T any] struct {
	schema     engine.Schema
	fields     []structField
	pk         structField
	scoreIndex []int
}

// NewStructMapper builds a mapper for T, which must be a struct with exactly
// one primary-key field.
func NewStructMapper[T any](name string) (*StructMapper[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, ierrors.SchemaError(fmt.Sprintf("%T is not a struct type", zero), nil)
	}

	m := &StructMapper[T]{schema: engine.Schema{Name: name}}
	havePK := false

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" || !sf.IsExported() {
			continue
		}

		opts, err := parseTag(sf, tag)
		if err != nil {
			return nil, ierrors.SchemaError(err.Error(), err)
		}

		if opts.score {
			if sf.Type.Kind() != reflect.Float64 && sf.Type.Kind() != reflect.Float32 {
				return nil, ierrors.SchemaError(fmt.Sprintf("score field %s must be a float", sf.Name), nil)
			}
			if m.scoreIndex != nil {
				return nil, ierrors.SchemaError("more than one score field", nil)
			}
			m.scoreIndex = sf.Index
			continue
		}

		f := structField{index: sf.Index, typ: sf.Type, field: engine.Field{
			Name:     opts.name,
			Kind:     opts.kind,
			Analyzer: opts.analyzer,
		}}
		if opts.pk {
			if havePK {
				return nil, ierrors.SchemaError(fmt.Sprintf("%s: more than one primary key", t.Name()), nil)
			}
			havePK = true
			m.pk = f
			m.schema.PrimaryKey = f.field.Name
		}
		m.fields = append(m.fields, f)
		m.schema.Fields = append(m.schema.Fields, f.field)
	}

	if !havePK {
		return nil, ierrors.SchemaError(fmt.Sprintf("%s has no field tagged as primary key", t.Name()), nil).
			WithSuggestion(`tag one field with index:"name,pk"`)
	}
	if err := m.schema.Validate(); err != nil {
		return nil, ierrors.SchemaError(err.Error(), err)
	}
	return m, nil
}

// MustStructMapper is like NewStructMapper but panics on error. It is meant
// for package-level wiring.
func MustStructMapper[T any](name string) *StructMapper[T] {
	m, err := NewStructMapper[T](name)
	if err != nil {
		panic(err)
	}
	return m
}

type tagOptions struct {
	name     string
	kind     engine.FieldKind
	analyzer string
	pk       bool
	score    bool
}

func parseTag(sf reflect.StructField, tag string) (tagOptions, error) {
	parts := strings.Split(tag, ",")
	opts := tagOptions{name: parts[0]}
	if opts.name == "" {
		opts.name = strings.ToLower(sf.Name)
	}

	for _, p := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch key {
		case "pk":
			opts.pk = true
		case "score":
			opts.score = true
		case "kind":
			opts.kind = engine.FieldKind(value)
		case "analyzer":
			opts.analyzer = value
		case "":
		default:
			return opts, fmt.Errorf("field %s: unknown tag option %q", sf.Name, key)
		}
	}

	if opts.score {
		return opts, nil
	}

	if opts.kind == "" {
		kind, err := defaultKind(sf.Type, opts.pk)
		if err != nil {
			return opts, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		opts.kind = kind
	}
	return opts, nil
}

func defaultKind(t reflect.Type, pk bool) (engine.FieldKind, error) {
	if t == timeType {
		return engine.KindDateTime, nil
	}
	switch t.Kind() {
	case reflect.String:
		if pk {
			return engine.KindKeyword, nil
		}
		return engine.KindText, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return engine.KindKeyword, nil
		}
	case reflect.Bool:
		return engine.KindBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return engine.KindNumeric, nil
	}
	return "", fmt.Errorf("unsupported type %s", t)
}

// Schema returns the derived schema.
func (m *StructMapper[T]) Schema() engine.Schema {
	return m.schema
}

// Encode converts record into a document keyed by its primary key.
func (m *StructMapper[T]) Encode(record T) (engine.Document, error) {
	v := reflect.ValueOf(record)

	id, err := engine.KeyString(v.FieldByIndex(m.pk.index).Interface())
	if err != nil {
		return engine.Document{}, fmt.Errorf("primary key %s: %w", m.pk.field.Name, err)
	}

	fields := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		fv := v.FieldByIndex(f.index)
		if fv.Kind() == reflect.Slice && fv.IsNil() {
			continue
		}
		fields[f.field.Name] = fv.Interface()
	}
	return engine.Document{ID: id, Fields: fields}, nil
}

// PrimaryKeyTerm returns the record's primary-key term.
func (m *StructMapper[T]) PrimaryKeyTerm(record T) (engine.Term, error) {
	value := reflect.ValueOf(record).FieldByIndex(m.pk.index).Interface()
	if _, err := engine.KeyString(value); err != nil {
		return engine.Term{}, fmt.Errorf("primary key %s: %w", m.pk.field.Name, err)
	}
	return engine.Term{Field: m.pk.field.Name, Value: value}, nil
}

// Decode rebuilds a record. Fields missing from doc keep their zero value.
func (m *StructMapper[T]) Decode(doc engine.Document, score float64) (T, error) {
	var out T
	v := reflect.ValueOf(&out).Elem()

	for _, f := range m.fields {
		raw, ok := doc.Fields[f.field.Name]
		if !ok {
			continue
		}
		if err := assign(v.FieldByIndex(f.index), raw); err != nil {
			return out, fmt.Errorf("field %s: %w", f.field.Name, err)
		}
	}
	if m.scoreIndex != nil {
		v.FieldByIndex(m.scoreIndex).SetFloat(score)
	}
	return out, nil
}

// assign stores a decoded engine value into dst, converting numbers to the
// destination width.
func assign(dst reflect.Value, raw any) error {
	if dst.Type() == timeType {
		t, ok := raw.(time.Time)
		if !ok {
			return fmt.Errorf("expected time, got %T", raw)
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch n := raw.(type) {
		case int64:
			dst.SetInt(n)
			return nil
		case uint64:
			if n > math.MaxInt64 {
				return fmt.Errorf("%d overflows %s", n, dst.Type())
			}
			dst.SetInt(int64(n))
			return nil
		}
		n, ok := engine.Numeric(raw)
		if !ok {
			return fmt.Errorf("expected number, got %T", raw)
		}
		dst.SetInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch n := raw.(type) {
		case uint64:
			dst.SetUint(n)
			return nil
		case int64:
			if n < 0 {
				return fmt.Errorf("expected unsigned number, got %d", n)
			}
			dst.SetUint(uint64(n))
			return nil
		}
		n, ok := engine.Numeric(raw)
		if !ok || n < 0 {
			return fmt.Errorf("expected unsigned number, got %v", raw)
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		n, ok := engine.Numeric(raw)
		if !ok {
			return fmt.Errorf("expected number, got %T", raw)
		}
		dst.SetFloat(n)
	case reflect.Slice:
		var items []any
		switch r := raw.(type) {
		case []any:
			items = r
		default:
			items = []any{r}
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := assign(out.Index(i), item); err != nil {
				return err
			}
		}
		dst.Set(out)
	default:
		return fmt.Errorf("unsupported destination %s", dst.Type())
	}
	return nil
}

var _ Mapper[struct{}] = (*StructMapper[struct{}])(nil)
