// Package schema maps caller records to engine documents and back.
//
// Two mappers are provided: StructMapper derives the schema from struct tags,
// MapMapper drives map[string]any records from a schema loaded at runtime.
package schema

import (
	"github.com/Aman-CERP/recyclix/internal/engine"
)

// Mapper converts records of type R to and from engine documents.
type Mapper[R any] interface {
	// Schema returns the index layout.
	Schema() engine.Schema

	// Encode converts a record into an engine document.
	Encode(record R) (engine.Document, error)

	// PrimaryKeyTerm returns the exact-match term identifying the record.
	PrimaryKeyTerm(record R) (engine.Term, error)

	// Decode rebuilds a record from a stored document and its score.
	Decode(doc engine.Document, score float64) (R, error)
}
