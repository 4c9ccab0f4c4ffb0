package chunk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set is a batch of parent and child chunks produced by ingestion.
type Set struct {
	Parents  []*ParentChunk `json:"parents" yaml:"parents"`
	Children []*ChildChunk  `json:"children" yaml:"children"`
}

// record is one line of a JSONL chunk file.
// Type is "parent" or "child"; the remaining fields follow the chunk types.
type record struct {
	Type string `json:"type"`
	ChildChunk
}

// maxLineBytes bounds a single JSONL line (a parent body can be large).
const maxLineBytes = 16 * 1024 * 1024

// LoadFile reads a chunk set from a .jsonl, .json, .yaml or .yml file.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return ReadJSONL(f)
	case ".yaml", ".yml":
		return readYAML(f)
	case ".json":
		var set Set
		if err := json.NewDecoder(f).Decode(&set); err != nil {
			return nil, fmt.Errorf("decode chunk file %s: %w", path, err)
		}
		return &set, set.Validate()
	default:
		return nil, fmt.Errorf("unsupported chunk file extension %q (want .jsonl, .json, .yaml)", filepath.Ext(path))
	}
}

// ReadJSONL reads one chunk per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) (*Set, error) {
	set := &Set{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		switch strings.ToLower(rec.Type) {
		case "parent":
			set.Parents = append(set.Parents, &ParentChunk{
				ID:         rec.ID,
				DocumentID: rec.DocumentID,
				Text:       rec.Text,
				Ordinal:    rec.Ordinal,
			})
		case "child", "":
			child := rec.ChildChunk
			set.Children = append(set.Children, &child)
		default:
			return nil, fmt.Errorf("line %d: unknown chunk type %q", line, rec.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk lines: %w", err)
	}

	return set, set.Validate()
}

func readYAML(r io.Reader) (*Set, error) {
	var set Set
	if err := yaml.NewDecoder(r).Decode(&set); err != nil {
		if err == io.EOF {
			return &set, nil
		}
		return nil, fmt.Errorf("decode yaml chunk file: %w", err)
	}
	return &set, set.Validate()
}

// Validate checks every chunk and that each child references a known parent.
func (s *Set) Validate() error {
	parents := make(map[string]struct{}, len(s.Parents))
	for _, p := range s.Parents {
		if err := p.Validate(); err != nil {
			return err
		}
		parents[p.ID] = struct{}{}
	}
	for _, c := range s.Children {
		if err := c.Validate(); err != nil {
			return err
		}
		c.Keywords = NormalizeKeywords(c.Keywords)
		if _, ok := parents[c.ParentChunkID]; !ok && len(s.Parents) > 0 {
			return fmt.Errorf("child chunk %s references unknown parent %s", c.ID, c.ParentChunkID)
		}
	}
	return nil
}
