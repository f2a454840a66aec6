package engine

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeAnalyzer is the analyzer name text fields use to opt into
	// identifier-aware tokenization.
	CodeAnalyzer = "code"

	codeTokenizerName  = "recyclix_code_tokenizer"
	codeStopFilterName = "recyclix_code_stop"
)

// codeStopWords are keywords too common in identifiers to be useful terms.
var codeStopWords = map[string]struct{}{
	"var": {}, "let": {}, "const": {}, "func": {}, "function": {}, "def": {},
	"class": {}, "return": {}, "if": {}, "else": {}, "for": {}, "while": {},
}

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(codeStopFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return codeStopFilter{}, nil
	})
}

// addCodeAnalyzer registers the code analyzer on a mapping.
func addCodeAnalyzer(im *mapping.IndexMappingImpl) error {
	return im.AddCustomAnalyzer(CodeAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text into lowercase terms, breaking identifiers on
// camelCase, PascalCase and snake_case boundaries. Terms shorter than two
// characters are dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case, then camelCase within each part.
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
//   - "max_retry_Count" -> ["max", "retry", "Count"]
func SplitIdentifier(word string) []string {
	result := []string{}
	for _, part := range strings.Split(word, "_") {
		if part == "" {
			continue
		}
		result = append(result, splitCamel(part)...)
	}
	return result
}

func splitCamel(s string) []string {
	var parts []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Acronym runs stay together: "HTTPHandler" splits before "Handler".
			if (prevLower || nextLower) && current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		start := strings.Index(lowerText[offset:], tok)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)
		if end > len(text) {
			end = len(text)
		}

		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

type codeStopFilter struct{}

func (codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, stop := codeStopWords[string(tok.Term)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
