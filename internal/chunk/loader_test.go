package chunk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONL_ParentsAndChildren(t *testing.T) {
	// Given: a JSONL stream with one parent and two children
	input := `
{"type":"parent","id":"p1","document_id":"d1","text":"Parent body","ordinal":0}
{"type":"child","id":"c1","parent_chunk_id":"p1","document_id":"d1","text":"first","summary":"s1","keywords":["alpha"," Alpha ","beta"]}

{"type":"child","id":"c2","parent_chunk_id":"p1","document_id":"d1","text":"second","ordinal":1}
`

	// When: reading it
	set, err := ReadJSONL(strings.NewReader(input))

	// Then: both tiers are populated and keywords are normalized
	require.NoError(t, err)
	require.Len(t, set.Parents, 1)
	require.Len(t, set.Children, 2)
	assert.Equal(t, "Parent body", set.Parents[0].Text)
	assert.Equal(t, "p1", set.Children[0].ParentChunkID)
	assert.Equal(t, []string{"alpha", "beta"}, set.Children[0].Keywords)
	assert.Equal(t, 1, set.Children[1].Ordinal)
}

func TestReadJSONL_UnknownParentIsRejected(t *testing.T) {
	// Given: a child pointing at a parent that is not in the file
	input := `{"type":"parent","id":"p1","text":"x"}
{"type":"child","id":"c1","parent_chunk_id":"missing","text":"y"}`

	// When: reading it
	_, err := ReadJSONL(strings.NewReader(input))

	// Then: validation fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent")
}

func TestReadJSONL_BadType(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader(`{"type":"grandparent","id":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestLoadFile_YAML(t *testing.T) {
	// Given: a YAML chunk file
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.yaml")
	content := `parents:
  - id: p1
    document_id: d1
    text: Parent text
children:
  - id: c1
    parent_chunk_id: p1
    text: Child text
    keywords: [one, two]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: loading it
	set, err := LoadFile(path)

	// Then: chunks are decoded
	require.NoError(t, err)
	require.Len(t, set.Parents, 1)
	require.Len(t, set.Children, 1)
	assert.Equal(t, "one two", set.Children[0].KeywordText())
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.csv")
	require.NoError(t, os.WriteFile(path, []byte("id"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestChildChunk_Validate(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *ChildChunk
		wantErr bool
	}{
		{"valid", &ChildChunk{ID: "c", ParentChunkID: "p"}, false},
		{"missing id", &ChildChunk{ParentChunkID: "p"}, true},
		{"missing parent", &ChildChunk{ID: "c"}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunk.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
