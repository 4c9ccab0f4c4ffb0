package output

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Loading chunks...")
	w.Status("", "indented")

	// Then: output contains icon and message
	assert.Equal(t, "🔍 Loading chunks...\n   indented\n", buf.String())
}

func TestWriter_Levels_PlainWithoutColor(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Indexed 12 chunks")
	w.Warningf("%d paths failed", 1)
	w.Errorf("open %s", "chunks.db")

	out := buf.String()
	assert.Contains(t, out, "✅ Indexed 12 chunks\n")
	assert.Contains(t, out, "⚠️  1 paths failed\n")
	assert.Contains(t, out, "❌ open chunks.db\n")
	assert.NotContains(t, out, "\x1b[")
}

func TestWriter_ForcedColor_EmitsANSI(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	w.Heading("Results")
	w.Success("done")

	assert.True(t, w.Color())
	assert.Contains(t, buf.String(), ansiBold+"Results"+ansiReset)
	assert.Contains(t, buf.String(), ansiGreen+"done"+ansiReset)
	assert.Equal(t, ansiDim+"x"+ansiReset, w.Dim("x"))
	assert.Equal(t, "", w.Bold(""))
}

func TestNew_BufferIsNotTTY(t *testing.T) {
	w := New(&bytes.Buffer{})

	assert.False(t, w.Color())
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestIsTTY_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	assert.False(t, IsTTY(f))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("line one\nline two")

	assert.Equal(t, "  line one\n  line two\n\n", buf.String())
}
