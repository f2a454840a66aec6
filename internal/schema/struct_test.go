package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

type article struct {
	ID      uint64    `index:"id,pk"`
	Title   string    `index:"title"`
	Body    string    `index:"body,analyzer=code"`
	Tags    []string  `index:"tags"`
	Views   int32     `index:"views"`
	Draft   bool      `index:"draft"`
	Created time.Time `index:"created"`
	Score   float32   `index:",score"`
	Notes   string
	Ignored string `index:"-"`
}

func TestNewStructMapper_DerivesSchema(t *testing.T) {
	m, err := NewStructMapper[article]("articles")
	require.NoError(t, err)

	s := m.Schema()
	assert.Equal(t, "articles", s.Name)
	assert.Equal(t, "id", s.PrimaryKey)
	assert.Equal(t, []engine.Field{
		{Name: "id", Kind: engine.KindNumeric},
		{Name: "title", Kind: engine.KindText},
		{Name: "body", Kind: engine.KindText, Analyzer: engine.CodeAnalyzer},
		{Name: "tags", Kind: engine.KindKeyword},
		{Name: "views", Kind: engine.KindNumeric},
		{Name: "draft", Kind: engine.KindBoolean},
		{Name: "created", Kind: engine.KindDateTime},
	}, s.Fields)
}

func TestNewStructMapper_RequiresPrimaryKey(t *testing.T) {
	type noKey struct {
		Title string `index:"title"`
	}

	_, err := NewStructMapper[noKey]("nokey")

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeSchemaInvalid, ierrors.GetCode(err))
	assert.Panics(t, func() { MustStructMapper[noKey]("nokey") })
}

func TestNewStructMapper_RejectsBadTags(t *testing.T) {
	type twoKeys struct {
		A string `index:"a,pk"`
		B string `index:"b,pk"`
	}
	type badOption struct {
		A string `index:"a,pk,sorted"`
	}
	type badScore struct {
		A string `index:"a,pk"`
		S int    `index:",score"`
	}
	type badType struct {
		A string         `index:"a,pk"`
		M map[string]int `index:"m"`
	}

	_, err := NewStructMapper[twoKeys]("x")
	assert.Error(t, err)
	_, err = NewStructMapper[badOption]("x")
	assert.Error(t, err)
	_, err = NewStructMapper[badScore]("x")
	assert.Error(t, err)
	_, err = NewStructMapper[badType]("x")
	assert.Error(t, err)
	_, err = NewStructMapper[string]("x")
	assert.Error(t, err)
}

func TestStructMapper_EncodeDecode(t *testing.T) {
	m := MustStructMapper[article]("articles")
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	in := article{
		ID: 9, Title: "Hello", Body: "getUser", Tags: []string{"a", "b"},
		Views: 12, Draft: true, Created: created, Notes: "not indexed",
	}

	// When: encoding
	doc, err := m.Encode(in)
	require.NoError(t, err)

	// Then: the document is keyed by the canonical primary key
	assert.Equal(t, "9", doc.ID)
	assert.NotContains(t, doc.Fields, "Notes")
	assert.Len(t, doc.Fields, 7)

	// When: decoding what the engine returns for stored fields
	stored := engine.Document{ID: "9", Fields: map[string]any{
		"id": float64(9), "title": "Hello", "body": "getUser",
		"tags": []any{"a", "b"}, "views": float64(12), "draft": true, "created": created,
	}}
	out, err := m.Decode(stored, 1.5)
	require.NoError(t, err)

	// Then: the record round-trips with the score filled in
	want := in
	want.Notes = ""
	want.Score = 1.5
	assert.Equal(t, want, out)
}

func TestStructMapper_DecodeSingleValueIntoSlice(t *testing.T) {
	m := MustStructMapper[article]("articles")

	out, err := m.Decode(engine.Document{Fields: map[string]any{"tags": "solo"}}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, out.Tags)
}

func TestStructMapper_DecodeTypeMismatch(t *testing.T) {
	m := MustStructMapper[article]("articles")

	_, err := m.Decode(engine.Document{Fields: map[string]any{"title": 3.0}}, 0)

	assert.Error(t, err)
}

func TestStructMapper_PrimaryKeyTerm(t *testing.T) {
	type keyed struct {
		Key string `index:"key,pk"`
	}
	m := MustStructMapper[keyed]("keyed")

	term, err := m.PrimaryKeyTerm(keyed{Key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, engine.Term{Field: "key", Value: "k1"}, term)

	_, err = m.PrimaryKeyTerm(keyed{})
	assert.Error(t, err)
	_, err = m.Encode(keyed{})
	assert.Error(t, err)
}
