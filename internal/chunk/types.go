// Package chunk defines the two-tier chunk hierarchy read by the retrieval core.
//
// Child chunks are the unit of retrieval: they are small, indexed on three
// lexical fields and embedded. Parent chunks are the unit of generation
// context: a child points at exactly one parent through ParentChunkID.
// Chunks are produced by an ingestion pipeline outside this module and are
// read-only here.
package chunk

import (
	"fmt"
	"strings"
)

// ParentChunk is the large unit handed to the answer generator.
type ParentChunk struct {
	ID         string `json:"id" yaml:"id"`
	DocumentID string `json:"document_id" yaml:"document_id"`
	Text       string `json:"text" yaml:"text"`
	Ordinal    int    `json:"ordinal" yaml:"ordinal"`
}

// ChildChunk is the small unit matched by the recall paths.
type ChildChunk struct {
	ID            string   `json:"id" yaml:"id"`
	ParentChunkID string   `json:"parent_chunk_id" yaml:"parent_chunk_id"`
	DocumentID    string   `json:"document_id" yaml:"document_id"`
	Text          string   `json:"text" yaml:"text"`
	Summary       string   `json:"summary" yaml:"summary"`
	Keywords      []string `json:"keywords" yaml:"keywords"`
	Ordinal       int      `json:"ordinal" yaml:"ordinal"`
}

// KeywordText joins the keyword set into the text indexed for the keywords field.
func (c *ChildChunk) KeywordText() string {
	return strings.Join(c.Keywords, " ")
}

// Turn is one question/answer exchange of a conversation.
type Turn struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Validate checks that a parent chunk can be stored.
func (p *ParentChunk) Validate() error {
	if p == nil {
		return fmt.Errorf("parent chunk is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("parent chunk id is required")
	}
	return nil
}

// Validate checks that a child chunk can be indexed.
func (c *ChildChunk) Validate() error {
	if c == nil {
		return fmt.Errorf("child chunk is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("child chunk id is required")
	}
	if strings.TrimSpace(c.ParentChunkID) == "" {
		return fmt.Errorf("child chunk %s has no parent_chunk_id", c.ID)
	}
	return nil
}

// NormalizeKeywords trims, drops empties and removes case-insensitive
// duplicates while keeping first-seen order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
