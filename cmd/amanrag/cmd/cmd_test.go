package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const testChunks = `{"type":"parent","id":"p-refund","document_id":"policy","text":"Refund policy. A refund is issued within 30 days of purchase when the receipt is shown."}
{"type":"parent","id":"p-shipping","document_id":"policy","text":"Shipping. Orders ship within two business days by courier."}
{"type":"child","id":"c-refund-1","parent_chunk_id":"p-refund","document_id":"policy","text":"A refund is issued within 30 days of purchase.","summary":"refund window","keywords":["refund","purchase"]}
{"type":"child","id":"c-refund-2","parent_chunk_id":"p-refund","document_id":"policy","text":"The receipt must be shown to get a refund.","summary":"refund receipt","keywords":["refund","receipt"]}
{"type":"child","id":"c-shipping","parent_chunk_id":"p-shipping","document_id":"policy","text":"Orders ship within two business days by courier.","summary":"shipping time","keywords":["shipping","courier"]}
`

// setupProject isolates HOME and the user config and writes an offline
// project config. It returns the project dir.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	project := `retrieval:
  top_k: 3
index:
  data_dir: ` + filepath.Join(dir, "data") + `
embeddings:
  provider: static
  dimensions: 64
generation:
  enabled: false
rerank:
  scorer: lexical
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanrag.yaml"), []byte(project), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks.jsonl"), []byte(testChunks), 0o644))
	return dir
}

// runCLI executes the root command with --config-dir dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--config-dir", dir))
	err := cmd.Execute()
	return buf.String(), err
}

func indexProject(t *testing.T, dir string) {
	t.Helper()
	out, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"))
	require.NoError(t, err, out)
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	for _, sub := range []string{"index", "retrieve", "serve", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestIndexCmd_LoadsChunks(t *testing.T) {
	// Given: an offline project with a JSONL chunk file
	dir := setupProject(t)

	// When: indexing it
	out, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"))

	// Then: counts are reported and the data dir is populated
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 parents and 3 children")
	assert.Contains(t, out, "Indexed 2 parents and 3 children (3 vectors)")
	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestIndexCmd_RequiresFile(t *testing.T) {
	dir := setupProject(t)

	_, err := runCLI(t, dir, "index")

	assert.Error(t, err)
}

func TestIndexCmd_InvalidChunkFile(t *testing.T) {
	// Given: a child whose parent is missing
	dir := setupProject(t)
	path := filepath.Join(dir, "orphans.jsonl")
	orphan := `{"type":"parent","id":"p1","text":"parent"}` + "\n" +
		`{"type":"child","id":"c1","parent_chunk_id":"missing","text":"x"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(orphan), 0o644))

	// When: indexing it
	_, err := runCLI(t, dir, "index", path)

	// Then: it fails as a validation error
	require.Error(t, err)
	var ae *amanerrors.AmanError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, amanerrors.CategoryValidation, ae.Category)
}

func TestRetrieveCmd_TextOutput(t *testing.T) {
	// Given: an indexed project
	dir := setupProject(t)
	indexProject(t, dir)

	// When: retrieving with a multi-word query
	out, err := runCLI(t, dir, "retrieve", "refund", "purchase")

	// Then: the refund parent is listed first with its text
	require.NoError(t, err)
	assert.Contains(t, out, `Passages for "refund purchase"`)
	assert.Contains(t, out, "1. p-refund (policy)")
	assert.Contains(t, out, "Refund policy.")
	assert.Contains(t, out, "fused ")
}

func TestRetrieveCmd_JSONOutput(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)

	out, err := runCLI(t, dir, "retrieve", "courier shipping", "--format", "json", "--top-k", "1", "--no-rerank")
	require.NoError(t, err)

	var resp struct {
		Results []struct {
			ParentChunkID string   `json:"parent_chunk_id"`
			RerankScore   *float64 `json:"rerank_score"`
			FusedScore    float64  `json:"fused_score"`
		} `json:"results"`
		Query struct {
			Original string `json:"original"`
		} `json:"query"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p-shipping", resp.Results[0].ParentChunkID)
	require.NotNil(t, resp.Results[0].RerankScore)
	assert.Equal(t, resp.Results[0].FusedScore, *resp.Results[0].RerankScore)
	assert.Equal(t, "courier shipping", resp.Query.Original)
	assert.NotEmpty(t, resp.RequestID)
}

func TestRetrieveCmd_WithHistoryFile(t *testing.T) {
	dir := setupProject(t)
	indexProject(t, dir)
	history := filepath.Join(dir, "turns.yaml")
	require.NoError(t, os.WriteFile(history, []byte("- question: how do refunds work\n  answer: within 30 days\n"), 0o644))

	out, err := runCLI(t, dir, "retrieve", "refund receipt", "--history", history)

	require.NoError(t, err)
	assert.Contains(t, out, "p-refund")
}

func TestRetrieveCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing query", []string{"retrieve"}},
		{"invalid format", []string{"retrieve", "refund", "--format", "xml"}},
		{"unknown path", []string{"retrieve", "refund", "--paths", "title"}},
		{"unknown profile", []string{"retrieve", "refund", "--profile", "turbo"}},
		{"missing history", []string{"retrieve", "refund", "--history", "/nonexistent/turns.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupProject(t)

			_, err := runCLI(t, dir, tt.args...)

			assert.Error(t, err)
		})
	}
}

func TestReadHistory(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "turns.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"question":"q1","answer":"a1"},{"question":"q2","answer":"a2"}]`), 0o644))
	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("question: not a list\n"), 0o644))

	turns, err := readHistory(jsonPath)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[1].Question)
	assert.Equal(t, "a1", turns[0].Answer)

	none, err := readHistory("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = readHistory(badPath)
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, err = runCLI(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	out, err = runCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "amanrag")
	assert.Contains(t, out, "commit")
}

func TestDoctorCmd_OfflineProject(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "doctor", "--json")
	require.NoError(t, err)

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ready", report.Status)
	assert.Len(t, report.Checks, 6)

	out, err = runCLI(t, dir, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "embedder: static (offline)")
	assert.Contains(t, out, "Status: READY")
}

func TestIndexCmd_UnwritableDataDirFailsPreflight(t *testing.T) {
	// Given: a data dir below a regular file
	dir := setupProject(t)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	t.Setenv("AMANRAG_DATA_DIR", filepath.Join(blocker, "data"))

	// When: indexing
	_, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"))

	// Then: it stops before touching any store
	require.Error(t, err)
	var ae *amanerrors.AmanError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, amanerrors.CategoryStorage, ae.Category)
	assert.Contains(t, ae.Message, "data_dir")
}

func TestIndexCmd_PlainProgress(t *testing.T) {
	// Given: an offline project
	dir := setupProject(t)

	// When: indexing with the live view disabled
	out, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"), "--no-tui")

	// Then: each stage reports progress and the breakdown follows
	require.NoError(t, err, out)
	assert.Contains(t, out, "[STORE] 5/5")
	assert.Contains(t, out, "[FIELDS] 3/3")
	assert.Contains(t, out, "[EMBED] 3/3")
	assert.Contains(t, out, "[SAVE] 1/1")
	assert.Contains(t, out, "Stage breakdown:")
	assert.Contains(t, out, "Embedder: static")
	assert.Contains(t, out, "Indexed 2 parents and 3 children (3 vectors)")
}

func TestIndexCmd_WritesProfiles(t *testing.T) {
	// Given: an offline project and three profile paths
	dir := setupProject(t)
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")
	trace := filepath.Join(dir, "trace.out")

	// When: indexing with profiling on
	out, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"), "--no-tui",
		"--cpuprofile", cpu, "--memprofile", heap, "--trace", trace)

	// Then: every profile is written and listed
	require.NoError(t, err, out)
	for _, p := range []string{cpu, heap, trace} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), p)
		assert.Contains(t, out, "Profile: "+p)
	}
}

func TestIndexCmd_BadProfilePath(t *testing.T) {
	// Given: a CPU profile path in a missing directory
	dir := setupProject(t)

	// When: indexing
	_, err := runCLI(t, dir, "index", filepath.Join(dir, "chunks.jsonl"), "--no-tui",
		"--cpuprofile", filepath.Join(dir, "missing", "cpu.prof"))

	// Then: it fails as a validation error
	require.Error(t, err)
	var ae *amanerrors.AmanError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, amanerrors.CategoryValidation, ae.Category)
}
