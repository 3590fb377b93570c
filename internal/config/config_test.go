package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/codebridge/internal/errortypes"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ".", cfg.Store.ProjectRoot)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 500, cfg.Search.SnippetChars)
	assert.Equal(t, "anonymous", cfg.Search.SubjectID)
	assert.Empty(t, cfg.Search.TenantID)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Store.ProjectRoot = "  " }},
		{"zero top k", func(c *Config) { c.Search.TopK = 0 }},
		{"negative snippet", func(c *Config) { c.Search.SnippetChars = -1 }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errortypes.IsConfigError(err))
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	cfg, err := LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.GetConfigPath())
	assert.Equal(t, DefaultTopK, cfg.Search.TopK)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultConfigFilename)

	cfg := NewConfig()
	cfg.Store.ProjectRoot = "/srv/project"
	cfg.Search.TopK = 25
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.SaveToFile(path))
	assert.Equal(t, path, cfg.GetConfigPath())

	loaded, err := LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/project", loaded.Store.ProjectRoot)
	assert.Equal(t, 25, loaded.Search.TopK)
	assert.Equal(t, DefaultSnippetChars, loaded.Search.SnippetChars)
	assert.Equal(t, "debug", loaded.Logging.Level)
}
