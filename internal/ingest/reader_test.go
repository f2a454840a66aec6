package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recyclix/internal/schema"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		op     Op
		record schema.Record
	}{
		{
			name:   "bare record",
			line:   `{"id":"a","title":"lamp"}`,
			op:     OpAdd,
			record: schema.Record{"id": "a", "title": "lamp"},
		},
		{
			name:   "add envelope",
			line:   `{"op":"add","record":{"id":"a"}}`,
			op:     OpAdd,
			record: schema.Record{"id": "a"},
		},
		{
			name:   "remove envelope is case insensitive",
			line:   `{"op":"REMOVE","record":{"id":"a"}}`,
			op:     OpRemove,
			record: schema.Record{"id": "a"},
		},
		{
			name:   "envelope without op adds",
			line:   `{"record":{"id":"a"}}`,
			op:     OpAdd,
			record: schema.Record{"id": "a"},
		},
		{
			name:   "record with an op field is a bare record",
			line:   `{"op":"resize","id":"a"}`,
			op:     OpAdd,
			record: schema.Record{"op": "resize", "id": "a"},
		},
		{
			name:   "numbers stay exact",
			line:   `{"id":9007199254740993,"price":1.50}`,
			op:     OpAdd,
			record: schema.Record{"id": json.Number("9007199254740993"), "price": json.Number("1.50")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := ParseLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.op, line.Op)
			assert.Equal(t, tt.record, line.Record)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"not json", `id=a`, "not a JSON object"},
		{"array", `[1,2]`, "not a JSON object"},
		{"unknown op", `{"op":"upsert","record":{"id":"a"}}`, `unknown op "upsert"`},
		{"op not a string", `{"op":1,"record":{"id":"a"}}`, "op must be a string"},
		{"null", `null`, "record is null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLine([]byte(tt.line))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
