package configs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/configs"
	"github.com/Aman-CERP/amanrag/internal/config"
)

func TestTemplates_LoadAsDefaults(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"user", configs.UserConfigTemplate},
		{"project", configs.ProjectConfigTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: the template written as a config file
			require.NotEmpty(t, strings.TrimSpace(tt.template))
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.template), 0o644))

			// When: loading it with unknown keys rejected
			cfg, err := config.LoadFile(path)

			// Then: every active key is known, valid and equal to the default
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, config.NewConfig(), cfg)
		})
	}
}

func TestProjectTemplate_LoadsFromProjectDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(configs.ProjectConfigTemplate), 0o644))

	cfg, err := config.Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Retrieval.Profile)
	assert.True(t, cfg.Server.WatchConfig)
}
