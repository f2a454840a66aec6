// Package query offers thin constructors over bleve queries. Any
// query.Query built directly with bleve is accepted by the index layer too.
package query

import (
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/recyclix/internal/engine"
)

// Query is a search predicate.
type Query = bq.Query

// String parses a bleve query string such as `title:lamp +price:>10`.
// Syntax errors are reported here rather than at search time.
func String(q string) (Query, error) {
	if q == "" {
		return All(), nil
	}
	parsed, err := bleve.NewQueryStringQuery(q).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse query %q: %w", q, err)
	}
	return parsed, nil
}

// Term matches documents whose field contains exactly value.
func Term(field, value string) Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

// Match analyzes text with the field's analyzer and matches any term.
func Match(field, text string) Query {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return q
}

// All matches every document.
func All() Query {
	return bleve.NewMatchAllQuery()
}

// And matches documents matching every query.
func And(qs ...Query) Query {
	return bleve.NewConjunctionQuery(qs...)
}

// Or matches documents matching at least one query.
func Or(qs ...Query) Query {
	return bleve.NewDisjunctionQuery(qs...)
}

// NumericRange matches min <= field <= max. A nil bound is open.
func NumericRange(field string, min, max *float64) Query {
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(min, max, &inclusive, &inclusive)
	q.SetField(field)
	return q
}

// DateRange matches start <= field < end. A zero bound is open.
func DateRange(field string, start, end time.Time) Query {
	startInclusive, endInclusive := true, false
	q := bleve.NewDateRangeInclusiveQuery(start, end, &startInclusive, &endInclusive)
	q.SetField(field)
	return q
}

// Bool matches documents whose boolean field equals v.
func Bool(field string, v bool) Query {
	q := bleve.NewBoolFieldQuery(v)
	q.SetField(field)
	return q
}

// Key matches the single document with the given primary key.
func Key(s engine.Schema, value any) (Query, error) {
	pk, ok := s.Field(s.PrimaryKey)
	if !ok {
		return nil, fmt.Errorf("schema %q has no primary key field", s.Name)
	}
	if pk.Kind == engine.KindNumeric {
		if _, ok := engine.Numeric(value); !ok {
			return nil, fmt.Errorf("primary key %q: expected number, got %T", pk.Name, value)
		}
	}
	id, err := engine.KeyString(value)
	if err != nil {
		return nil, fmt.Errorf("primary key %q: %w", pk.Name, err)
	}
	if pk.Kind == engine.KindNumeric {
		// Indexed numbers are float64; the document ID is exact.
		return bleve.NewDocIDQuery([]string{id}), nil
	}
	return Term(pk.Name, id), nil
}
