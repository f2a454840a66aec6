package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aman-CERP/recyclix/internal/engine"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// maxFieldChars truncates long field values in markdown output.
const maxFieldChars = 500

// FormatRecords formats query results as markdown.
func FormatRecords(query string, records []schema.Record, sch engine.Schema) string {
	label := query
	if strings.TrimSpace(label) == "" {
		label = "*"
	}
	if len(records) == 0 {
		return fmt.Sprintf("No records found for \"%s\"", label)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Results for \"%s\"\n\n", label))
	sb.WriteString(fmt.Sprintf("Found %d record", len(records)))
	if len(records) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range records {
		formatRecord(&sb, i+1, r, sch)
	}
	return sb.String()
}

func formatRecord(sb *strings.Builder, n int, r schema.Record, sch engine.Schema) {
	score, _ := r[schema.DefaultScoreField].(float64)
	sb.WriteString(fmt.Sprintf("### %d. `%v` (score: %.3f)\n\n", n, r[sch.PrimaryKey], score))
	for _, f := range sch.Fields {
		if f.Name == sch.PrimaryKey {
			continue
		}
		v, ok := r[f.Name]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", f.Name, truncate(fieldText(v), maxFieldChars)))
	}
	sb.WriteString("\n")
}

func fieldText(v any) string {
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(val, "\n", " ")
	case []string:
		return strings.Join(val, ", ")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
