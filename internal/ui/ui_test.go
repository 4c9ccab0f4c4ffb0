package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageStoring, "Store", "STORE"},
		{StageLexical, "Lexical", "FIELDS"},
		{StageEmbedding, "Embed", "EMBED"},
		{StagePersisting, "Persist", "SAVE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestNewConfig_Options(t *testing.T) {
	buf := &bytes.Buffer{}
	called := false

	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithDataDir("/kb/data"),
		WithInterrupt(func() { called = true }))

	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "/kb/data", cfg.DataDir)
	cfg.OnInterrupt()
	assert.True(t, called)
}

func TestNewRenderer_PlainForNonTTY(t *testing.T) {
	// Given: output into a buffer
	cfg := NewConfig(&bytes.Buffer{})

	// When: picking a renderer
	r := NewRenderer(cfg)

	// Then: plain output is used
	assert.IsType(t, &PlainRenderer{}, r)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(NewConfig(&bytes.Buffer{}, WithForcePlain(true)))
	assert.IsType(t, &PlainRenderer{}, r)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")

	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
