package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases text and splits it into letter/digit runs.
// Identifiers are split on camelCase boundaries so that "parentChunkID"
// also matches "parent chunk". Tokens shorter than minLen runes are dropped.
func Tokenize(text string, minLen int) []string {
	spans := tokenSpans(text)
	tokens := make([]string, 0, len(spans))
	for _, sp := range spans {
		tok := strings.ToLower(text[sp.start:sp.end])
		if utf8.RuneCountInString(tok) >= minLen {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

type span struct{ start, end int }

// tokenSpans returns byte offsets of every token in text.
func tokenSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			spans = appendWordSpans(spans, text, start, i)
			start = -1
		}
	}
	if start >= 0 {
		spans = appendWordSpans(spans, text, start, len(text))
	}
	return spans
}

func appendWordSpans(spans []span, text string, start, end int) []span {
	offset := start
	for _, part := range SplitCamelCase(text[start:end]) {
		spans = append(spans, span{start: offset, end: offset + len(part)})
		offset += len(part)
	}
	return spans
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
//   - "parentChunkId" -> ["parent", "Chunk", "Id"]
//   - "HTTPScorer" -> ["HTTP", "Scorer"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var (
		parts   []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
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

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, stop := stopWords[strings.ToLower(tok)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

// BuildStopWordMap converts a stop word list into a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// analyze applies the same pipeline to documents and queries.
func analyze(text string, cfg TextConfig, stop map[string]struct{}) []string {
	return FilterStopWords(Tokenize(text, cfg.MinTokenLength), stop)
}
